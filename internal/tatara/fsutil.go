package tatara

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Stamp filenames written into a target's extract dir. A phase counts as
// done only when its stamp exists; the stamp is written atomically after the
// phase fully succeeds, so an interrupted run can never be mistaken for a
// completed one.
const (
	extractedStamp = ".tatara-extracted"
	builtStamp     = ".tatara-built"
)

func stampPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeStamp writes a completion stamp via temp file + rename so the stamp
// either exists fully or not at all.
func writeStamp(path string, t *Target) error {
	content := fmt.Sprintf("%s %s %s\n", t.Name, t.Version, time.Now().UTC().Format(time.RFC3339))
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	// Copy file mode
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

// ensureDirs creates the workspace skeleton.
func (ws *Workspace) ensureDirs() error {
	for _, dir := range []string{ws.CacheStore, ws.BuildRoot, ws.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}
	return nil
}

// dirHasEntries reports whether dir exists and is non-empty.
func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// removeTree removes dir, tolerating its absence.
func removeTree(dir string) error {
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
