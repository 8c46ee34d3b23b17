package tatara

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PatchOperation is one override file copied into an extracted source tree
// before the configure step. Source is a path on the orchestrator side,
// Dest a path relative to the target's extract dir.
type PatchOperation struct {
	Source string
	Dest   string
}

// Target is one native library (or any build unit) with its own
// fetch/extract/patch/build lifecycle.
type Target struct {
	Name           string
	Version        string
	URL            string
	Checksum       string // BLAKE3 hex of the archive, empty = unverified
	ConfigureFlags []string
	Patches        []PatchOperation
	DependsOn      []string // targets whose build output this configure needs
}

// ArchiveName is the deterministic cache filename for the target's source
// archive. Name and Version pin it; only the compression extension comes
// from the URL, so an override URL that hides the filename (query strings,
// opaque download endpoints) still caches under name-version.
func (t *Target) ArchiveName() string {
	return t.ExtractDirName() + archiveExt(t.URL)
}

// archiveExt picks the recognized archive extension out of a URL, defaulting
// to .tar.gz when the URL doesn't reveal one.
func archiveExt(url string) string {
	base := url
	if i := strings.LastIndexByte(base, '/'); i != -1 {
		base = base[i+1:]
	}
	if i := strings.IndexAny(base, "?#"); i != -1 {
		base = base[:i]
	}
	for _, ext := range []string{".tar.gz", ".tgz", ".tar.xz", ".tar.bz2", ".tar.zst", ".tar"} {
		if strings.HasSuffix(base, ext) {
			return ext
		}
	}
	return ".tar.gz"
}

// ExtractDirName is the deterministic directory name for the unpacked tree.
func (t *Target) ExtractDirName() string {
	return t.Name + "-" + t.Version
}

func (t *Target) String() string { return t.ExtractDirName() }

// TargetState is the lifecycle position derived entirely from the
// workspace filesystem. Patching leaves no state of its own: it is cheap and
// content-checked, so it is re-applied on every run between Extracted and
// Built.
type TargetState int

const (
	StateMissing TargetState = iota
	StateFetched
	StateExtracted
	StateBuilt
)

func (s TargetState) String() string {
	switch s {
	case StateFetched:
		return "fetched"
	case StateExtracted:
		return "extracted"
	case StateBuilt:
		return "built"
	default:
		return "missing"
	}
}

// targetState inspects stamps, not bare directory presence: a tree that
// exists without its stamp counts as not done (see extractArchive).
func (ws *Workspace) targetState(t *Target) TargetState {
	dir := ws.extractDir(t)
	if stampPresent(filepath.Join(dir, builtStamp)) {
		return StateBuilt
	}
	if stampPresent(filepath.Join(dir, extractedStamp)) {
		return StateExtracted
	}
	if _, err := os.Stat(ws.archivePath(t)); err == nil {
		return StateFetched
	}
	return StateMissing
}

// Pinned default targets. zlib must be fully built before xapian-core's
// configure step runs: xapian links against zlib and finds it through the
// -I/-L flags the builder derives from DependsOn.
func defaultTargets() []*Target {
	return []*Target{
		{
			Name:           "zlib",
			Version:        "1.2.11",
			URL:            "https://zlib.net/fossils/zlib-1.2.11.tar.gz",
			ConfigureFlags: []string{"--static"},
		},
		{
			Name:           "xapian-core",
			Version:        "1.4.17",
			URL:            "https://oligarchy.co.uk/xapian/1.4.17/xapian-core-1.4.17.tar.xz",
			ConfigureFlags: []string{"--disable-documentation"},
			DependsOn:      []string{"zlib"},
		},
	}
}

// loadTargets returns the default targets with any per-target override
// directory applied. The override layout follows one dir per target under
// DepsPath (colon separated), holding optional files:
//
//	version   pinned version (first field)
//	sources   archive URL (first non-comment line)
//	checksum  BLAKE3 hex of the archive
//	flags     whitespace-separated configure flags
//	files/    overlay tree; every file becomes a patch operation whose
//	          destination is its path relative to files/
//
// The patch list is therefore external, versioned configuration: the
// compiled-in defaults carry no patches at all.
func loadTargets(ws *Workspace) ([]*Target, error) {
	targets := defaultTargets()
	for _, t := range targets {
		dir, err := findTargetDir(ws, t.Name)
		if err != nil {
			continue // no override dir, keep the pinned default
		}
		if err := applyTargetDir(t, dir); err != nil {
			return nil, fmt.Errorf("bad target definition in %s: %w", dir, err)
		}
	}
	return targets, nil
}

// findTargetDir searches the DepsPath entries for a directory named after
// the target.
func findTargetDir(ws *Workspace, name string) (string, error) {
	for _, repo := range strings.Split(ws.DepsPath, ":") {
		if repo == "" {
			continue
		}
		tryPath := filepath.Join(repo, name)
		if info, err := os.Stat(tryPath); err == nil && info.IsDir() {
			return tryPath, nil
		}
	}
	return "", errTargetNotFound
}

func applyTargetDir(t *Target, dir string) error {
	if data, err := os.ReadFile(filepath.Join(dir, "version")); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) == 0 {
			return fmt.Errorf("version file is empty")
		}
		t.Version = fields[0]
	}

	if data, err := os.ReadFile(filepath.Join(dir, "sources")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			t.URL = strings.Fields(line)[0]
			break
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "checksum")); err == nil {
		t.Checksum = strings.TrimSpace(string(data))
	}

	if data, err := os.ReadFile(filepath.Join(dir, "flags")); err == nil {
		t.ConfigureFlags = strings.Fields(string(data))
	}

	// Collect the overlay tree. Order is deterministic (WalkDir is lexical)
	// so repeated runs apply patches identically.
	overlay := filepath.Join(dir, "files")
	if info, err := os.Stat(overlay); err == nil && info.IsDir() {
		t.Patches = nil
		err := filepath.WalkDir(overlay, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(overlay, path)
			if err != nil {
				return err
			}
			t.Patches = append(t.Patches, PatchOperation{Source: path, Dest: rel})
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking overlay dir: %w", err)
		}
	}

	return nil
}
