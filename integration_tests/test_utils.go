//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/hierarchy"
)

// eventTimeout bounds every wait on the file system or the network.
const eventTimeout = 10 * time.Second

// writeDocument writes text to name below root and moves its modification
// time past anything cached before.
func writeDocument(t *testing.T, root, name, text string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	return path
}

// buildBackend stacks layers on a directory layer for root.
func buildBackend(t *testing.T, root string, layers ...hierarchy.LayerConfig) backends.Container {
	t.Helper()
	c, err := compiler.NewFromOptions(compiler.DefaultOptions())
	require.NoError(t, err)

	containers := append([]hierarchy.LayerConfig{
		{Name: hierarchy.NameDirectory, Config: map[string]any{"path": root}},
	}, layers...)
	container, err := hierarchy.FromConfig(c, hierarchy.BackendConfig{Containers: containers}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	return container
}

// get fetches url and returns the status and body.
func get(t *testing.T, url string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}
