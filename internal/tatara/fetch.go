package tatara

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Increase TLS handshake timeout to handle slow mirrors.
	// Default is 10s, we increase it to 30s.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

type downloadOptions struct {
	Quiet bool // Quiet suppresses all stdout/stderr/progress output
}

func downloadFile(url, destFile string) error {
	return downloadFileWithOptions(url, destFile, downloadOptions{Quiet: false})
}

func downloadFileQuiet(url, destFile string) error {
	return downloadFileWithOptions(url, destFile, downloadOptions{Quiet: true})
}

func downloadFileWithOptions(url, destFile string, opt downloadOptions) error {
	absPath, err := filepath.Abs(destFile)
	if err != nil {
		return err
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", absPath, err)
	}
	lockPath := absPath + ".lock"

	// Create/Open a lock file to prevent race conditions between the
	// background prefetcher and the sequential pipeline walk.
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Acquire an exclusive lock. This blocks if another goroutine is
	// already downloading the same archive.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// The lock file never outlives the download attempt, success or not.
	// A waiter blocked on the old inode keeps its own fd, so this is safe.
	defer os.Remove(lockPath)

	// DOUBLE CHECK: now that we have the lock, the prefetcher might have
	// finished the file while we were waiting for it.
	if _, err := os.Stat(absPath); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", absPath)
		return nil
	}

	debugf("Downloading %s -> %s\n", url, absPath)

	// Every downloader writes to a temp path and renames into place on
	// success. The cache-hit check in fetchArchive runs without the lock,
	// so the final archive path must only ever hold complete files.
	tmpPath := fmt.Sprintf("%s.part.%d", absPath, time.Now().UnixNano())

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", tmpPath}
		if opt.Quiet {
			curlArgs = append(curlArgs, "-sS")
		} else {
			curlArgs = append(curlArgs, "-#")
		}
		curlArgs = append(curlArgs, url)
		cmd := exec.Command("curl", curlArgs...)
		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("Download successful with curl.\n")
			return os.Rename(tmpPath, absPath)
		}
		_ = os.Remove(tmpPath)
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-O", tmpPath, url}
		if opt.Quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		cmd := exec.Command("wget", args...)
		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("Download successful with wget.\n")
			return os.Rename(tmpPath, absPath)
		}
		_ = os.Remove(tmpPath)
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	// --- Fallback 2: native Go HTTP client ---
	return downloadFileNative(url, absPath, opt)
}

// downloadFileNative fetches url into absPath with net/http. It writes to a
// temp file first and renames on success so a failed transfer never leaves
// a partial archive behind.
func downloadFileNative(url, absPath string, opt downloadOptions) error {
	client := newHTTPClient()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	tmpPath := fmt.Sprintf("%s.part.%d", absPath, time.Now().UnixNano())
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", tmpPath, err)
	}

	var dst io.Writer = out
	if !opt.Quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(absPath))
		dst = io.MultiWriter(out, bar)
	}

	_, err = io.Copy(dst, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	debugf("Download successful with native Go HTTP client.\n")
	return nil
}

// fetchArchive makes the target's source archive present and verified in
// the cache, returning its path. A cached archive that passes verification
// means no network access at all. A cached archive that fails verification
// is thrown away and fetched once more before giving up.
func (p *Pipeline) fetchArchive(t *Target) (string, error) {
	archivePath := p.ws.archivePath(t)

	if _, err := os.Stat(archivePath); err == nil {
		if err := verifyArchive(t, archivePath); err == nil {
			debugf("Already in cache: %s\n", archivePath)
			return archivePath, nil
		}
		cPrintf(colWarn, "Cached archive %s failed verification, refetching\n", t.ArchiveName())
		_ = os.Remove(archivePath)
	}

	if !p.quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching source: %s\n", t.ArchiveName())
	}

	downloader := downloadFile
	if p.quiet {
		downloader = downloadFileQuiet
	}

	// Retry is an explicit policy: attempts beyond the first only happen
	// when TATARA_FETCH_RETRIES asks for them.
	var lastErr error
	for attempt := 0; attempt <= p.ws.FetchRetries; attempt++ {
		if attempt > 0 {
			cPrintf(colWarn, "Retrying download of %s (attempt %d of %d)\n",
				t.ArchiveName(), attempt+1, p.ws.FetchRetries+1)
			time.Sleep(fetchBackoff)
		}
		if lastErr = downloader(t.URL, archivePath); lastErr == nil {
			break
		}
		_ = os.Remove(archivePath)
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to download %s: %w", t.URL, lastErr)
	}

	if err := verifyArchive(t, archivePath); err != nil {
		_ = os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}

const fetchBackoff = 3 * time.Second

// prefetchArchives downloads every target's archive in the background
// before the sequential pipeline walk starts. Builds stay strictly ordered;
// only the network transfers overlap. Download failures here are not fatal:
// the pipeline's own fetch step retries and reports them in order.
func (p *Pipeline) prefetchArchives(targets []*Target) {
	if len(targets) == 0 {
		return
	}

	concurrencyLimit := 4
	debugf("Starting background prefetch for %d targets (concurrency: %d)...\n", len(targets), concurrencyLimit)

	sem := make(chan struct{}, concurrencyLimit)
	var wg sync.WaitGroup

	for _, t := range targets {
		sem <- struct{}{}
		wg.Add(1)

		go func(t *Target) {
			defer wg.Done()
			defer func() { <-sem }()

			archivePath := p.ws.archivePath(t)
			if _, err := os.Stat(archivePath); err == nil {
				return
			}
			if err := downloadFileQuiet(t.URL, archivePath); err != nil {
				debugf("Background prefetch failed for %s: %v\n", t.Name, err)
			}
		}(t)
	}

	wg.Wait()
	debugf("Background prefetch completed.\n")
}
