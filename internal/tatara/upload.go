package tatara

import (
	"context"
	"fmt"
)

// handleUploadCommand implements the 'tatara upload' command: every target
// that is Built locally gets packed into a prebuilt tarball and pushed to
// the R2 bucket, where future builds (here or on other machines) find it
// through TATARA_MIRROR.
func handleUploadCommand(ws *Workspace, cfg *Config, targets []*Target) error {
	ctx := context.Background()

	r2, err := NewR2Client(cfg)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("Fetching remote object list from R2")
	remote, err := r2.ListObjects(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list remote objects: %w", err)
	}
	remoteSet := make(map[string]bool, len(remote))
	for _, key := range remote {
		remoteSet[key] = true
	}

	var uploaded int
	for _, t := range targets {
		if ws.targetState(t) != StateBuilt {
			debugf("Skipping %s: not built locally\n", t.ExtractDirName())
			continue
		}

		key := prebuiltName(t)
		if remoteSet[key] {
			colArrow.Print("-> ")
			colInfo.Printf("%s already on mirror, skipping\n", key)
			continue
		}

		colArrow.Print("-> ")
		colSuccess.Printf("Packing %s\n", key)
		tarballPath, err := createPrebuiltTarball(ws, t)
		if err != nil {
			return fmt.Errorf("failed to pack %s: %w", t.ExtractDirName(), err)
		}

		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", key)
		if err := r2.UploadLocalFile(ctx, key, tarballPath); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		uploaded++
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Upload complete (%d new tarball(s))\n", uploaded)
	return nil
}
