package tatara

import (
	"archive/tar"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
)

// newTestWorkspace builds a Workspace rooted in a temp dir with a no-op
// downstream command.
func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	return &Workspace{
		Root:          root,
		CacheStore:    filepath.Join(root, "cache"),
		BuildRoot:     filepath.Join(root, "build"),
		LogDir:        filepath.Join(root, "logs"),
		BinDir:        filepath.Join(root, "bin"),
		DepsPath:      filepath.Join(root, "deps"),
		Jobs:          1,
		DownstreamDir: root,
		DownstreamCmd: []string{"cargo", "build", "--release"},
	}
}

// makeTarGz builds a gzipped tarball whose entries all live under topDir,
// mirroring how upstream release archives are laid out.
func makeTarGz(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     topDir + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))

	// Emit parent dirs before files so extraction never depends on MkdirAll
	// alone.
	seen := map[string]bool{}
	for name, content := range files {
		dir := filepath.Dir(name)
		for dir != "." && !seen[dir] {
			seen[dir] = true
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     topDir + "/" + dir + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}))
			dir = filepath.Dir(dir)
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     topDir + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// archiveServer serves named tarballs over HTTP and counts requests per path.
type archiveServer struct {
	mu       sync.Mutex
	archives map[string][]byte
	requests map[string]int
	srv      *httptest.Server
}

func newArchiveServer(t *testing.T) *archiveServer {
	t.Helper()
	as := &archiveServer{
		archives: make(map[string][]byte),
		requests: make(map[string]int),
	}
	as.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		as.requests[r.URL.Path]++
		data, ok := as.archives[r.URL.Path]
		as.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Write(data)
	}))
	t.Cleanup(as.srv.Close)
	return as
}

func (as *archiveServer) add(path string, data []byte) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.archives[path] = data
}

func (as *archiveServer) count(path string) int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.requests[path]
}

func (as *archiveServer) url(path string) string {
	return as.srv.URL + path
}

// fakeRunner records every toolchain invocation instead of executing it.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	onRun func(cmd *exec.Cmd) error
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s in %s", cmd.Args[0], filepath.Base(cmd.Dir)))
	f.mu.Unlock()
	if f.onRun != nil {
		return f.onRun(cmd)
	}
	return nil
}

func (f *fakeRunner) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// testTargets returns the two-library graph of the default pipeline with
// archive URLs pointing at the local server.
func testTargets(t *testing.T, as *archiveServer) []*Target {
	t.Helper()

	zlibTar := makeTarGz(t, "zlib-1.2.11", map[string]string{
		"configure": "#!/bin/sh\n",
		"zlib.h":    "/* zlib */\n",
	})
	xapianTar := makeTarGz(t, "xapian-core-1.4.17", map[string]string{
		"configure":                  "#!/bin/sh\n",
		"include/xapian/version.h":   "/* stock version header */\n",
		"backends/glass/glass_db.cc": "// stock source\n",
	})
	as.add("/zlib-1.2.11.tar.gz", zlibTar)
	as.add("/xapian-core-1.4.17.tar.gz", xapianTar)

	return []*Target{
		{
			Name:           "zlib",
			Version:        "1.2.11",
			URL:            as.url("/zlib-1.2.11.tar.gz"),
			ConfigureFlags: []string{"--static"},
		},
		{
			Name:           "xapian-core",
			Version:        "1.4.17",
			URL:            as.url("/xapian-core-1.4.17.tar.gz"),
			ConfigureFlags: []string{"--disable-documentation"},
			DependsOn:      []string{"zlib"},
		},
	}
}

// newTestPipeline wires a pipeline with prefetch disabled so request counts
// stay deterministic.
func newTestPipeline(t *testing.T, ws *Workspace, targets []*Target, runner commandRunner) *Pipeline {
	t.Helper()
	p, err := newPipeline(ws, targets, runner)
	require.NoError(t, err)
	p.prefetch = false
	p.quiet = true
	return p
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
