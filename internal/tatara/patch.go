package tatara

import (
	"fmt"
	"os"
	"path/filepath"
)

// applyPatches overlays every patch operation of the target onto its
// extracted tree. Runs after extraction and before configure. A copy is
// skipped when the destination already matches the override content, so
// repeated runs are no-ops; a destination that differs (stale tree, edited
// file) is overwritten.
func (p *Pipeline) applyPatches(t *Target) error {
	if len(t.Patches) == 0 {
		return nil
	}

	treeDir := p.ws.extractDir(t)
	if !stampPresent(filepath.Join(treeDir, extractedStamp)) &&
		!stampPresent(filepath.Join(treeDir, builtStamp)) {
		return fmt.Errorf("source tree %s is not extracted", treeDir)
	}

	applied := 0
	for _, op := range t.Patches {
		if _, err := os.Stat(op.Source); err != nil {
			return fmt.Errorf("patch source %s missing: %w", op.Source, err)
		}

		destPath := filepath.Join(treeDir, op.Dest)
		destDir := filepath.Dir(destPath)
		if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
			return fmt.Errorf("patch destination dir %s does not exist in extracted tree", destDir)
		}

		same, err := filesMatch(op.Source, destPath)
		if err != nil {
			return fmt.Errorf("comparing %s: %w", destPath, err)
		}
		if same {
			debugf("Patch %s already applied, skipping\n", op.Dest)
			continue
		}

		if err := copyFile(op.Source, destPath); err != nil {
			return fmt.Errorf("copying %s -> %s: %w", op.Source, destPath, err)
		}
		applied++
		debugf("Patched %s\n", destPath)
	}

	if !p.quiet && applied > 0 {
		colArrow.Print("-> ")
		colSuccess.Printf("Applied %d patch file(s) to %s\n", applied, t.ExtractDirName())
	}
	return nil
}

// filesMatch reports whether dst exists with the same BLAKE3 content as src.
func filesMatch(src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	srcSum, err := hashFile(src)
	if err != nil {
		return false, err
	}
	dstSum, err := hashFile(dst)
	if err != nil {
		return false, err
	}
	return srcSum == dstSum, nil
}
