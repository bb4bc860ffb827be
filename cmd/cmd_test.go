package cmd

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/version"
)

// isolate keeps user and system config files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STARHP_CONFIG", "")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(args, strings.NewReader(stdin), &stdout, &stderr)

	return stdout.String(), err
}

// site writes documents to a fresh root and a config stacking layers on
// top of a directory layer for it.
func site(t *testing.T, documents map[string]string, layers ...string) string {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "site")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, text := range documents {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}

	var config strings.Builder
	fmt.Fprintf(&config, "backend:\n  containers:\n    - name: %s\n      config:\n        path: %q\n",
		hierarchy.NameDirectory, root)
	for _, layer := range layers {
		config.WriteString(strings.ReplaceAll(layer, "$DIR", dir))
	}

	path := filepath.Join(dir, "starhp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config.String()), 0o644))

	return path
}

const memoryCache = "    - name: " + hierarchy.NameMemoryCache + "\n"

const fileCache = "    - name: " + hierarchy.NameFileCache + "\n" +
	"      config:\n" +
	"        directory_name: \"$DIR/cache\"\n"

func TestExitCode(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "success", err: nil, expected: 0},
		{name: "plain error", err: stderrors.New("boom"), expected: 1},
		{name: "exit error", err: &ExitError{Code: 3, Err: errNotCache}, expected: 3},
		{name: "wrapped exit error", err: fmt.Errorf("gc: %w", &ExitError{Code: 3, Err: errNotCache}), expected: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExitCode(tc.err))
		})
	}
}

func TestRunStdin(t *testing.T) {
	isolate(t)

	out, err := run(t, "<?star echo(argc, ' ', argv[0], ' ', argv[1]) ?>", "run", "-", "one")
	require.NoError(t, err)
	assert.Equal(t, "2 - one", out)
}

func TestRunStdinWithoutName(t *testing.T) {
	isolate(t)

	out, err := run(t, "Sum: <?star echo(1 + 2) ?>", "run")
	require.NoError(t, err)
	assert.Equal(t, "Sum: 3", out)
}

func TestRunUnifiedStrategy(t *testing.T) {
	isolate(t)

	out, err := run(t, "a<?star echo('b') ?>c", "--strategy", compiler.StrategyUnified, "run")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

func TestRunFromBackend(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"hello.star": "Hello <?star echo(argv[1]) ?>!"})

	out, err := run(t, "", "--config", config, "run", "hello.star", "World")
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", out)
}

func TestRunErrors(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"broken.star": "<?star fail('broken') ?>"})

	testCases := []struct {
		name string
		args []string
	}{
		{name: "missing document", args: []string{"--config", config, "run", "missing.star"}},
		{name: "execution error", args: []string{"--config", config, "run", "broken.star"}},
		{name: "invalid strategy", args: []string{"--strategy", "fancy", "run"}},
		{name: "missing config", args: []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "run"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, "", tc.args...)
			require.Error(t, err)
			assert.Equal(t, 1, ExitCode(err))
		})
	}
}

func TestErrorsAreReportedOnStderr(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"broken.star": "<?star x = = 1 ?>"})

	testCases := []struct {
		name     string
		args     []string
		contains []string
	}{
		{
			name:     "lookup",
			args:     []string{"--config", config, "run", "missing.star"},
			contains: []string{"Lookup failed", "missing.star", "ERR_NOT_FOUND"},
		},
		{
			name:     "compile",
			args:     []string{"--config", config, "run", "broken.star"},
			contains: []string{"Compile error occurred", "ERR_SYNTAX"},
		},
		{
			name:     "before setup",
			args:     []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "run"},
			contains: []string{"level=ERROR", "none.yaml"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := execute(tc.args, strings.NewReader(""), &stdout, &stderr)
			require.Error(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, stderr.String(), want)
			}
			assert.Empty(t, stdout.String())
		})
	}
}

func TestBackendList(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{
		"index.star":     "index",
		"blog/post.star": "post",
		"blog/feed.xml":  "feed",
	})

	out, err := run(t, "", "--config", config, "backend", "list")
	require.NoError(t, err)
	assert.Equal(t, "'blog/feed.xml'\n'blog/post.star'\n'index.star'\n", out)

	out, err = run(t, "", "--config", config, "backend", "list", `blog/.*\.star`)
	require.NoError(t, err)
	assert.Equal(t, "'blog/post.star'\n", out)

	out, err = run(t, "", "--config", config, "backend", "list", "blog")
	require.NoError(t, err)
	assert.Empty(t, out, "the pattern has to match the whole name")

	out, err = run(t, "", "--config", config, "backend", "list", `post\.star`)
	require.NoError(t, err)
	assert.Empty(t, out, "a suffix match is not enough")

	out, err = run(t, "", "--config", config, "backend", "list", `blog/feed\.xml|index\.star`)
	require.NoError(t, err)
	assert.Equal(t, "'blog/feed.xml'\n'index.star'\n", out)

	out, err = run(t, "", "--config", config, "backend", "list", "--cached")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBackendListJSON(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"index.star": "index"})

	out, err := run(t, "", "--config", config, "backend", "list", "-o", "json")
	require.NoError(t, err)

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Equal(t, []listEntry{{Name: "index.star"}}, entries)
}

func TestBackendListRejectsBadInput(t *testing.T) {
	isolate(t)
	config := site(t, nil)

	_, err := run(t, "", "--config", config, "backend", "list", "(")
	require.Error(t, err)

	_, err = run(t, "", "--config", config, "backend", "list", "-o", "xml")
	require.Error(t, err)
}

func TestBackendCacheCommands(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{
		"a.star": "A",
		"b.star": "B",
	}, fileCache)

	_, err := run(t, "", "--config", config, "backend", "fetch", "a.star")
	require.NoError(t, err)

	out, err := run(t, "", "--config", config, "backend", "list")
	require.NoError(t, err)
	assert.Equal(t, "'a.star' [cached]\n'b.star'\n", out)

	out, err = run(t, "", "--config", config, "backend", "list", "--cached")
	require.NoError(t, err)
	assert.Equal(t, "'a.star' [cached]\n", out)

	out, err = run(t, "", "--config", config, "backend", "list", "--cached", `b.*`)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "", "--config", config, "backend", "show", "a.star")
	require.NoError(t, err)
	assert.Contains(t, out, "Name: 'a.star'\n")
	assert.Contains(t, out, "cached: true\n")
	assert.NotContains(t, out, "Not supported")

	out, err = run(t, "", "--config", config, "backend", "gc")
	require.NoError(t, err)
	assert.Equal(t, "Collected 0 names\n", out)

	_, err = run(t, "", "--config", config, "backend", "clear", "a.star")
	require.NoError(t, err)

	out, err = run(t, "", "--config", config, "backend", "list", "--cached")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "", "--config", config, "backend", "clear", "a.star")
	require.Error(t, err, "clearing a name without entry fails")
}

func TestBackendGCCollectsStaleNames(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"a.star": "A"}, fileCache)

	_, err := run(t, "", "--config", config, "backend", "fetch", "a.star")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(config), "site", "a.star")))

	out, err := run(t, "", "--config", config, "backend", "gc")
	require.NoError(t, err)
	assert.Equal(t, "Collected 1 names\n", out)
}

func TestBackendShowWithoutCache(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"a.star": "A"})

	out, err := run(t, "", "--config", config, "backend", "show", "a.star")
	require.NoError(t, err)
	assert.Contains(t, out, "cached: Not supported\n")
	assert.NotContains(t, out, "mtime: Not supported")
}

func TestCacheCommandsNeedCache(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"a.star": "A"})

	for _, args := range [][]string{
		{"backend", "fetch", "a.star"},
		{"backend", "gc"},
		{"backend", "clear"},
		{"watch"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := run(t, "", append([]string{"--config", config}, args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitNotCache, ExitCode(err))
		})
	}
}

func TestBackendDump(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"a.star": "A<?star echo('B') ?>"}, memoryCache)
	output := filepath.Join(t.TempDir(), "a.code")

	_, err := run(t, "", "--config", config, "backend", "dump", "a.star", "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	code, err := compiler.Unmarshal(data)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, render(&out, code, nil))
	assert.Equal(t, "AB", out.String())
}

func TestRootDirectory(t *testing.T) {
	c, err := compiler.NewFromOptions(compiler.DefaultOptions())
	require.NoError(t, err)
	root := t.TempDir()
	directory := backends.NewDirectory(root, c, nil)
	memory, err := caches.NewMemoryCache(directory, caches.MemoryOptions{}, nil)
	require.NoError(t, err)
	stacked, err := caches.NewMemoryCache(memory, caches.MemoryOptions{}, nil)
	require.NoError(t, err)
	hashMap, err := backends.CompileHashMap(c, map[string]string{"a": "A"})
	require.NoError(t, err)

	got, ok := rootDirectory(stacked)
	require.True(t, ok)
	assert.Equal(t, filepath.Clean(root), got)

	_, ok = rootDirectory(hashMap)
	assert.False(t, ok)
}

func TestCacheDirectories(t *testing.T) {
	c, err := compiler.NewFromOptions(compiler.DefaultOptions())
	require.NoError(t, err)
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".cache")
	directory := backends.NewDirectory(root, c, nil)
	files, err := caches.NewFileCache(directory, caches.FileOptions{Directory: cacheDir}, nil)
	require.NoError(t, err)
	memory, err := caches.NewMemoryCache(files, caches.MemoryOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{cacheDir}, cacheDirectories(memory))
	assert.Empty(t, cacheDirectories(directory))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.GetShortVersion()+"\n", out)

	out, err = run(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.GetVersion(), info.Version)

	out, err = run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: ")
}

func TestVersionIgnoresBrokenConfig(t *testing.T) {
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "none.yaml"), "version")
	require.NoError(t, err)
}

func TestServeWatchNeedsCache(t *testing.T) {
	isolate(t)
	config := site(t, map[string]string{"a.star": "A"})

	_, err := run(t, "", "--config", config, "serve", "--watch", "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Equal(t, ExitNotCache, ExitCode(err))
}
