package core

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/winpkg/internal/testutil"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvCLIPath, "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeouts(), cfg.Timeouts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvCLIPath, "")
	path := testutil.WriteFile(t, t.TempDir(), "config.yaml", `
cli_path: C:\tools\winget.exe
min_version: 1.7.0
log:
  level: debug
  format: json
timeouts:
  detection_window: 30s
  export_attempts: 5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, `C:\tools\winget.exe`, cfg.CLIPath)
	assert.Equal(t, "1.7.0", cfg.MinVersion)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.DetectionWindow)
	assert.Equal(t, 5, cfg.Timeouts.ExportAttempts)
	// untouched settings keep their defaults
	assert.Equal(t, DefaultTimeouts().VerifyTimeout, cfg.Timeouts.VerifyTimeout)
	assert.Equal(t, "powershell.exe", cfg.PowerShell)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvCLIPath, `D:\winget.exe`)
	path := testutil.WriteFile(t, t.TempDir(), "config.yaml", "cli_path: C:\\other.exe\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, `D:\winget.exe`, cfg.CLIPath)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(testutil.WriteFile(t, dir, "bad.yaml", "timeouts: [1, 2"))
	assert.ErrorContains(t, err, "parsing config")

	_, err = LoadConfig(testutil.WriteFile(t, dir, "neg.yaml", "timeouts:\n  kill_budget: -1s\n"))
	assert.ErrorContains(t, err, "kill_budget")

	_, err = LoadConfig(testutil.WriteFile(t, dir, "fmt.yaml", "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "log format")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv(EnvCLIPath, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.MinVersion = "1.8.0"
	cfg.Timeouts.VerifyTimeout = 90 * time.Second

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
