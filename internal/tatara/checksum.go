package tatara

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"lukechampine.com/blake3"
)

func hashString(s string) string {
	// Try system b3sum first
	if _, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command("b3sum")
		cmd.Stdin = strings.NewReader(s)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			fields := strings.Fields(out.String())
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}

	// Fallback: internal Go BLAKE3 (32-byte output, no key)
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// hashFile computes the BLAKE3 checksum of a file, shelling out to b3sum
// when available.
func hashFile(path string) (string, error) {
	if _, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command("b3sum", "--no-names", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			sum := strings.TrimSpace(out.String())
			if sum != "" {
				return sum, nil
			}
		}
		debugf("b3sum failed for %s, using internal BLAKE3\n", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyArchive checks a cached archive against the target's pinned
// checksum. Targets without a pinned checksum pass with a debug note.
func verifyArchive(t *Target, path string) error {
	if t.Checksum == "" {
		debugf("No pinned checksum for %s, skipping verification\n", t.ArchiveName())
		return nil
	}
	sum, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("checksum of %s: %w", path, err)
	}
	if !strings.EqualFold(sum, t.Checksum) {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", t.ArchiveName(), sum, t.Checksum)
	}
	return nil
}
