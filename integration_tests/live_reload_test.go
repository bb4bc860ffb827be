//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/server"
	ws "github.com/conneroisu/starhp/internal/websocket"
	"github.com/conneroisu/starhp/internal/watcher"
)

func cachedNames(t *testing.T, cache caches.CacheContainer) []string {
	t.Helper()
	names := []string{}
	for name, err := range cache.CachedNames() {
		require.NoError(t, err)
		names = append(names, name)
	}

	return names
}

func readUpdate(t *testing.T, conn *websocket.Conn) ws.UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg ws.UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))

	return msg
}

func TestLiveReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	path := writeDocument(t, root, "index.star", "v<?star echo(1) ?>")
	container := buildBackend(t, root, hierarchy.LayerConfig{Name: hierarchy.NameMemoryCache})
	cache, ok := container.(*caches.Container)
	require.True(t, ok)

	hub := ws.NewHub(nil, nil)
	defer hub.Shutdown()
	srv := server.New(container, server.Config{Index: "index.star"}, nil).WithEvents(hub)
	httpServer := httptest.NewServer(srv.Handler())
	defer httpServer.Close()

	status, body := get(t, httpServer.URL+"/")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v1", body)
	assert.Equal(t, []string{"index.star"}, cachedNames(t, cache))

	invalidator, err := watcher.NewInvalidator(root, cache, false, nil)
	require.NoError(t, err)
	fileWatcher, err := watcher.NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer fileWatcher.Stop()
	fileWatcher.AddHandler(func(events []watcher.ChangeEvent) error {
		err := invalidator.Handle(events)
		for _, event := range events {
			if name, ok := invalidator.Name(event.Path); ok {
				hub.Notify(name, event.Type.Gone())
			}
		}

		return err
	})
	require.NoError(t, fileWatcher.AddRecursive(root))
	require.NoError(t, fileWatcher.Start(ctx))

	dialCtx, dialCancel := context.WithTimeout(ctx, eventTimeout)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(httpServer.URL, "http")+"/_events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, eventTimeout, 10*time.Millisecond)

	writeDocument(t, root, "index.star", "v<?star echo(2) ?>")
	msg := readUpdate(t, conn)
	assert.Equal(t, ws.MessageChanged, msg.Type)
	assert.Equal(t, "index.star", msg.Target)
	assert.Empty(t, cachedNames(t, cache), "the stale entry is collected")

	status, body = get(t, httpServer.URL+"/")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v2", body)

	require.NoError(t, os.Remove(path))
	msg = readUpdate(t, conn)
	assert.Equal(t, ws.MessageRemoved, msg.Type)
	assert.Equal(t, "index.star", msg.Target)

	status, _ = get(t, httpServer.URL+"/")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWatcherFetchesIntoFileCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	cacheDir := t.TempDir()
	writeDocument(t, root, "docs/page.star", "page")
	container := buildBackend(t, root, hierarchy.LayerConfig{
		Name:   hierarchy.NameFileCache,
		Config: map[string]any{"directory_name": cacheDir},
	})
	cache, ok := container.(*caches.Container)
	require.True(t, ok)

	invalidator, err := watcher.NewInvalidator(root, cache, true, nil)
	require.NoError(t, err)
	fileWatcher, err := watcher.NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer fileWatcher.Stop()
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddHandler(invalidator.Handle)
	require.NoError(t, fileWatcher.AddRecursive(root))
	require.NoError(t, fileWatcher.Start(ctx))

	writeDocument(t, root, "docs/page.star", "page <?star echo('two') ?>")
	require.Eventually(t, func() bool {
		cached, err := cache.Cached("docs/page.star")

		return err == nil && cached
	}, eventTimeout, 20*time.Millisecond)

	// the watch on a new directory starts after its create event
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "new"), 0o755))
	time.Sleep(200 * time.Millisecond)
	writeDocument(t, root, "docs/new/fresh.star", "fresh")
	require.Eventually(t, func() bool {
		cached, err := cache.Cached("docs/new/fresh.star")

		return err == nil && cached
	}, eventTimeout, 20*time.Millisecond, "new directories are watched")
}
