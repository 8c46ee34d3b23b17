package tatara

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load tatara.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge TATARA_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge TATARA_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TATARA_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}

	// Mirror credentials and the downstream build knobs come straight from
	// the environment when not set in the config file.
	for _, key := range []string{
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME",
		"DOWNSTREAM_DIR", "DOWNSTREAM_CMD",
	} {
		if v := os.Getenv(key); v != "" {
			if _, exists := cfg.Values[key]; !exists {
				cfg.Values[key] = v
			}
		}
	}
}

func initConfig(cfg *Config) {
	Debug = cfg.Values["TATARA_DEBUG"] == "1"
	Verbose = cfg.Values["TATARA_VERBOSE"] == "1"
}

// Workspace holds every derived path of one orchestrator workspace.
// All fetch/extract/build state lives under Root; nothing is persisted
// anywhere else.
type Workspace struct {
	Root       string // workspace root
	CacheStore string // fetched source archives
	BuildRoot  string // extracted, patched and compiled source trees
	LogDir     string // per-target build logs
	BinDir     string // prebuilt dependency tarballs (mirror cache)
	DepsPath   string // colon-separated dirs with per-target override defs

	Jobs          int    // make -j level
	FetchRetries  int    // extra download attempts after the first failure
	Mirror        string // prebuilt-tarball mirror base URL, empty = disabled
	DownstreamDir string
	DownstreamCmd []string
}

func newWorkspace(cfg *Config) (*Workspace, error) {
	root := cfg.Values["TATARA_ROOT"]
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:       root,
		CacheStore: filepath.Join(root, "cache"),
		BuildRoot:  filepath.Join(root, "build"),
		LogDir:     filepath.Join(root, "logs"),
		BinDir:     filepath.Join(root, "bin"),
		DepsPath:   cfg.Values["TATARA_PATH"],
	}
	if ws.DepsPath == "" {
		ws.DepsPath = filepath.Join(root, "deps")
	}

	ws.Jobs = runtime.NumCPU()
	if j := cfg.Values["TATARA_JOBS"]; j != "" {
		n, err := strconv.Atoi(j)
		if err != nil || n < 1 {
			cPrintf(colWarn, "Ignoring invalid TATARA_JOBS=%q\n", j)
		} else {
			ws.Jobs = n
		}
	}

	if r := cfg.Values["TATARA_FETCH_RETRIES"]; r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n < 0 {
			cPrintf(colWarn, "Ignoring invalid TATARA_FETCH_RETRIES=%q\n", r)
		} else {
			ws.FetchRetries = n
		}
	}

	if mirror := cfg.Values["TATARA_MIRROR"]; mirror != "" {
		ws.Mirror = strings.TrimRight(mirror, "/")
		debugf("=> Using prebuilt mirror: %s\n", ws.Mirror)
	}

	ws.DownstreamDir = cfg.Values["DOWNSTREAM_DIR"]
	if ws.DownstreamDir == "" {
		ws.DownstreamDir = root
	}
	cmdline := cfg.Values["DOWNSTREAM_CMD"]
	if cmdline == "" {
		cmdline = "cargo build --release"
	}
	ws.DownstreamCmd = strings.Fields(cmdline)

	return ws, nil
}

// extractDir is where a target's source tree lives once unpacked.
func (ws *Workspace) extractDir(t *Target) string {
	return filepath.Join(ws.BuildRoot, t.ExtractDirName())
}

// archivePath is the cached location of a target's fetched source archive.
func (ws *Workspace) archivePath(t *Target) string {
	return filepath.Join(ws.CacheStore, t.ArchiveName())
}
