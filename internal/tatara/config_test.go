package tatara

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesKeyValueLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tatara.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
# build workspace
TATARA_ROOT = /tmp/work
TATARA_JOBS="8"
TATARA_MIRROR='https://mirror.example.com/'

not a key value line
DOWNSTREAM_CMD=cargo build --release --locked
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/work", cfg.Values["TATARA_ROOT"])
	require.Equal(t, "8", cfg.Values["TATARA_JOBS"])
	require.Equal(t, "https://mirror.example.com/", cfg.Values["TATARA_MIRROR"])
	require.Equal(t, "cargo build --release --locked", cfg.Values["DOWNSTREAM_CMD"])
	require.NotContains(t, cfg.Values, "not a key value line")
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Values)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tatara.conf")
	require.NoError(t, os.WriteFile(path, []byte("TATARA_JOBS=2\n"), 0o644))

	t.Setenv("TATARA_JOBS", "6")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "6", cfg.Values["TATARA_JOBS"])
}

func TestDownstreamEnvFillsWhenConfigSilent(t *testing.T) {
	t.Setenv("DOWNSTREAM_DIR", "/srv/app")
	t.Setenv("DOWNSTREAM_CMD", "cargo check")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)

	ws, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.Equal(t, "/srv/app", ws.DownstreamDir)
	require.Equal(t, []string{"cargo", "check"}, ws.DownstreamCmd)
}

func TestNewWorkspaceDefaults(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{"TATARA_ROOT": root}}

	ws, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.Equal(t, root, ws.Root)
	require.Equal(t, filepath.Join(root, "cache"), ws.CacheStore)
	require.Equal(t, filepath.Join(root, "build"), ws.BuildRoot)
	require.Equal(t, filepath.Join(root, "logs"), ws.LogDir)
	require.Equal(t, filepath.Join(root, "bin"), ws.BinDir)
	require.Equal(t, filepath.Join(root, "deps"), ws.DepsPath)
	require.Equal(t, runtime.NumCPU(), ws.Jobs)
	require.Equal(t, 0, ws.FetchRetries)
	require.Empty(t, ws.Mirror)
	require.Equal(t, root, ws.DownstreamDir)
	require.Equal(t, []string{"cargo", "build", "--release"}, ws.DownstreamCmd)
}

func TestNewWorkspaceKnobs(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"TATARA_ROOT":          root,
		"TATARA_JOBS":          "3",
		"TATARA_FETCH_RETRIES": "2",
		"TATARA_MIRROR":        "https://mirror.example.com/prebuilt/",
		"TATARA_PATH":          "/etc/tatara/deps",
	}}

	ws, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.Equal(t, 3, ws.Jobs)
	require.Equal(t, 2, ws.FetchRetries)
	require.Equal(t, "https://mirror.example.com/prebuilt", ws.Mirror)
	require.Equal(t, "/etc/tatara/deps", ws.DepsPath)
}

func TestNewWorkspaceRejectsBadKnobs(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"TATARA_ROOT":          root,
		"TATARA_JOBS":          "zero",
		"TATARA_FETCH_RETRIES": "-1",
	}}

	ws, err := newWorkspace(cfg)
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU(), ws.Jobs)
	require.Equal(t, 0, ws.FetchRetries)
}

func TestInitConfigTogglesDebug(t *testing.T) {
	origDebug, origVerbose := Debug, Verbose
	defer func() { Debug, Verbose = origDebug, origVerbose }()

	initConfig(&Config{Values: map[string]string{"TATARA_DEBUG": "1"}})
	require.True(t, Debug)
	require.False(t, Verbose)

	initConfig(&Config{Values: map[string]string{"TATARA_VERBOSE": "1"}})
	require.False(t, Debug)
	require.True(t, Verbose)
}
