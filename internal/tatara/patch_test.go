package tatara

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func patchFixture(t *testing.T) (*Pipeline, *Target, string) {
	t.Helper()
	ws := newTestWorkspace(t)
	tgt := &Target{Name: "xapian-core", Version: "1.4.17"}

	treeDir := ws.extractDir(tgt)
	writeTestFile(t, filepath.Join(treeDir, "include", "xapian", "version.h"), "/* stock */\n")
	require.NoError(t, writeStamp(filepath.Join(treeDir, extractedStamp), tgt))

	p := newTestPipeline(t, ws, []*Target{tgt}, &fakeRunner{})
	return p, tgt, treeDir
}

func TestApplyPatchesOverwritesDestination(t *testing.T) {
	p, tgt, treeDir := patchFixture(t)

	src := filepath.Join(p.ws.Root, "override-version.h")
	writeTestFile(t, src, "/* override */\n")
	tgt.Patches = []PatchOperation{{Source: src, Dest: filepath.Join("include", "xapian", "version.h")}}

	require.NoError(t, p.applyPatches(tgt))

	got, err := os.ReadFile(filepath.Join(treeDir, "include", "xapian", "version.h"))
	require.NoError(t, err)
	require.Equal(t, "/* override */\n", string(got))
}

func TestApplyPatchesIdempotent(t *testing.T) {
	p, tgt, treeDir := patchFixture(t)

	src := filepath.Join(p.ws.Root, "override-version.h")
	writeTestFile(t, src, "/* override */\n")
	dest := filepath.Join("include", "xapian", "version.h")
	tgt.Patches = []PatchOperation{{Source: src, Dest: dest}}

	require.NoError(t, p.applyPatches(tgt))

	// Note the mtime, re-apply, and check the file was left alone.
	info1, err := os.Stat(filepath.Join(treeDir, dest))
	require.NoError(t, err)

	require.NoError(t, p.applyPatches(tgt))
	info2, err := os.Stat(filepath.Join(treeDir, dest))
	require.NoError(t, err)
	require.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestApplyPatchesMissingSource(t *testing.T) {
	p, tgt, _ := patchFixture(t)

	tgt.Patches = []PatchOperation{{
		Source: filepath.Join(p.ws.Root, "does-not-exist.h"),
		Dest:   filepath.Join("include", "xapian", "version.h"),
	}}
	err := p.applyPatches(tgt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestApplyPatchesMissingDestinationDir(t *testing.T) {
	p, tgt, _ := patchFixture(t)

	src := filepath.Join(p.ws.Root, "override.cc")
	writeTestFile(t, src, "// override\n")
	tgt.Patches = []PatchOperation{{Source: src, Dest: filepath.Join("no", "such", "dir.cc")}}

	err := p.applyPatches(tgt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestApplyPatchesRequiresExtractedTree(t *testing.T) {
	ws := newTestWorkspace(t)
	tgt := &Target{Name: "xapian-core", Version: "1.4.17"}
	src := filepath.Join(ws.Root, "override.h")
	writeTestFile(t, src, "/* override */\n")
	tgt.Patches = []PatchOperation{{Source: src, Dest: "override.h"}}

	p := newTestPipeline(t, ws, []*Target{tgt}, &fakeRunner{})
	err := p.applyPatches(tgt)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not extracted")
}

func TestApplyPatchesNoOpsOnEmptyList(t *testing.T) {
	ws := newTestWorkspace(t)
	tgt := &Target{Name: "zlib", Version: "1.2.11"}
	p := newTestPipeline(t, ws, []*Target{tgt}, &fakeRunner{})
	// No patches, no extracted tree: still fine.
	require.NoError(t, p.applyPatches(tgt))
}
