package tatara

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTarStripsTopLevelDir(t *testing.T) {
	data := makeTarGz(t, "zlib-1.2.11", map[string]string{
		"zlib.h":       "/* zlib */\n",
		"src/inflate.c": "/* inflate */\n",
	})
	archive := filepath.Join(t.TempDir(), "zlib-1.2.11.tar.gz")
	require.NoError(t, os.WriteFile(archive, data, 0o644))

	dest := t.TempDir()
	require.NoError(t, extractTar(archive, dest))

	// Entries land directly in dest, without the zlib-1.2.11/ prefix.
	require.FileExists(t, filepath.Join(dest, "zlib.h"))
	require.FileExists(t, filepath.Join(dest, "src", "inflate.c"))
	require.NoDirExists(t, filepath.Join(dest, "zlib-1.2.11"))

	got, err := os.ReadFile(filepath.Join(dest, "zlib.h"))
	require.NoError(t, err)
	require.Equal(t, "/* zlib */\n", string(got))
}

func TestExtractTarRejectsUnknownFormat(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "mystery.rar")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0o644))

	err := extractTar(archive, t.TempDir())
	require.Error(t, err)
}

func TestExtractArchiveWritesStamp(t *testing.T) {
	as := newArchiveServer(t)
	ws := newTestWorkspace(t)
	data := makeTarGz(t, "zlib-1.2.11", map[string]string{"zlib.h": "/* zlib */\n"})
	as.add("/zlib-1.2.11.tar.gz", data)

	tgt := &Target{Name: "zlib", Version: "1.2.11", URL: as.url("/zlib-1.2.11.tar.gz")}
	p := newTestPipeline(t, ws, []*Target{tgt}, &fakeRunner{})
	require.NoError(t, ws.ensureDirs())

	_, err := p.fetchArchive(tgt)
	require.NoError(t, err)

	dir, err := p.extractArchive(tgt)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, extractedStamp))
	require.Equal(t, StateExtracted, ws.targetState(tgt))

	// Second call is a no-op: the stamp short-circuits it.
	info1, err := os.Stat(filepath.Join(dir, "zlib.h"))
	require.NoError(t, err)
	_, err = p.extractArchive(tgt)
	require.NoError(t, err)
	info2, err := os.Stat(filepath.Join(dir, "zlib.h"))
	require.NoError(t, err)
	require.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestPrebuiltTarballRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	tgt := &Target{Name: "zlib", Version: "1.2.11", URL: "https://example.com/zlib-1.2.11.tar.gz"}

	// A built tree with stamps and an artifact.
	dir := ws.extractDir(tgt)
	writeTestFile(t, filepath.Join(dir, "libz.a"), "static lib bytes")
	require.NoError(t, writeStamp(filepath.Join(dir, extractedStamp), tgt))
	require.NoError(t, writeStamp(filepath.Join(dir, builtStamp), tgt))

	tarball, err := createPrebuiltTarball(ws, tgt)
	require.NoError(t, err)
	require.Equal(t, prebuiltName(tgt), filepath.Base(tarball))

	dest := t.TempDir()
	require.NoError(t, unpackPrebuiltTarball(tarball, dest))

	got, err := os.ReadFile(filepath.Join(dest, "libz.a"))
	require.NoError(t, err)
	require.Equal(t, "static lib bytes", string(got))
	require.FileExists(t, filepath.Join(dest, builtStamp))
}

func TestTryPrebuiltShortCircuitsBuild(t *testing.T) {
	as := newArchiveServer(t)
	ws := newTestWorkspace(t)
	targets := testTargets(t, as)
	zlib := targets[0]

	// Publish a prebuilt zlib tree on the "mirror".
	builderWs := newTestWorkspace(t)
	dir := builderWs.extractDir(zlib)
	writeTestFile(t, filepath.Join(dir, "libz.a"), "prebuilt lib")
	require.NoError(t, writeStamp(filepath.Join(dir, extractedStamp), zlib))
	require.NoError(t, writeStamp(filepath.Join(dir, builtStamp), zlib))
	tarball, err := createPrebuiltTarball(builderWs, zlib)
	require.NoError(t, err)
	data, err := os.ReadFile(tarball)
	require.NoError(t, err)
	as.add("/"+prebuiltName(zlib), data)

	ws.Mirror = as.srv.URL
	runner := &fakeRunner{}
	require.NoError(t, newTestPipeline(t, ws, targets, runner).Run())

	// zlib was never configured or compiled locally; xapian was.
	require.Equal(t, []string{
		"./configure in xapian-core-1.4.17",
		"make in xapian-core-1.4.17",
		"cargo in " + filepath.Base(ws.Root),
	}, runner.callList())
	require.Equal(t, StateBuilt, ws.targetState(zlib))
	require.Equal(t, 0, as.count("/zlib-1.2.11.tar.gz"))
}

func TestCompressXZRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "build.log")
	require.NoError(t, os.WriteFile(src, []byte("configure: ok\nmake: ok\n"), 0o644))

	dest := src + ".xz"
	require.NoError(t, compressXZ(src, dest))

	got, err := readXZFile(dest)
	require.NoError(t, err)
	require.Equal(t, "configure: ok\nmake: ok\n", got)
}
