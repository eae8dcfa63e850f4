// pkg/core/config.go
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arc-language/winpkg/pkg/winget"
)

// EnvCLIPath overrides Config.CLIPath.
const EnvCLIPath = "WINPKG_CLI_PATH"

// Config holds winpkg configuration
type Config struct {
	CLIPath            string `yaml:"cli_path"`
	BundledDir         string `yaml:"bundled_dir"`
	BundleArchive      string `yaml:"bundle_archive"`
	AppInstallerBundle string `yaml:"app_installer_bundle"`
	PowerShell         string `yaml:"powershell"`
	MinVersion         string `yaml:"min_version"`
	RegistryDir        string `yaml:"registry_dir"`
	Debug              bool   `yaml:"debug"`

	Log      LogConfig      `yaml:"log"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// LogConfig selects the log level, format and sink.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // empty logs to stderr
}

// TimeoutsConfig tunes the orchestration timings. Durations are written as
// Go duration strings such as "15s".
type TimeoutsConfig struct {
	NativeInit         time.Duration `yaml:"native_init"`
	DetectionWindow    time.Duration `yaml:"detection_window"`
	ExportAttempts     int           `yaml:"export_attempts"`
	ExportRetryDelay   time.Duration `yaml:"export_retry_delay"`
	ProgressThrottle   time.Duration `yaml:"progress_throttle"`
	KillBudget         time.Duration `yaml:"kill_budget"`
	VerifyInterval     time.Duration `yaml:"verify_interval"`
	VerifyTimeout      time.Duration `yaml:"verify_timeout"`
	ReadyProbeAttempts int           `yaml:"ready_probe_attempts"`
	ReadyProbeInterval time.Duration `yaml:"ready_probe_interval"`
	Upgrade            time.Duration `yaml:"upgrade"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		BundledDir: filepath.Join(getDataDir(), "winget-cli"),
		PowerShell: "powershell.exe",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Timeouts: DefaultTimeouts(),
	}
}

// DefaultTimeouts returns the stock timings.
func DefaultTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		NativeInit:         winget.DefaultNativeInitTimeout,
		DetectionWindow:    winget.DefaultDetectionWindow,
		ExportAttempts:     winget.DefaultExportAttempts,
		ExportRetryDelay:   winget.DefaultExportRetryDelay,
		ProgressThrottle:   winget.DefaultProgressThrottle,
		KillBudget:         winget.DefaultKillBudget,
		VerifyInterval:     winget.DefaultVerifyInterval,
		VerifyTimeout:      winget.DefaultVerifyTimeout,
		ReadyProbeAttempts: winget.DefaultReadyProbeAttempts,
		ReadyProbeInterval: winget.DefaultReadyProbeInterval,
		Upgrade:            winget.DefaultUpgradeTimeout,
	}
}

// DefaultConfigPath is %APPDATA%\winpkg\config.yaml, or
// ~/.config/winpkg/config.yaml where APPDATA is unset.
func DefaultConfigPath() string {
	if dir := os.Getenv("APPDATA"); dir != "" {
		return filepath.Join(dir, "winpkg", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "winpkg", "config.yaml")
	}
	return filepath.Join(home, ".config", "winpkg", "config.yaml")
}

// LoadConfig loads configuration from file. A missing file yields the
// defaults. Settings absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"native_init":          t.NativeInit,
		"detection_window":     t.DetectionWindow,
		"export_retry_delay":   t.ExportRetryDelay,
		"progress_throttle":    t.ProgressThrottle,
		"kill_budget":          t.KillBudget,
		"verify_interval":      t.VerifyInterval,
		"verify_timeout":       t.VerifyTimeout,
		"ready_probe_interval": t.ReadyProbeInterval,
		"upgrade":              t.Upgrade,
	} {
		if d < 0 {
			return fmt.Errorf("config: timeouts.%s must not be negative", name)
		}
	}
	if t.ExportAttempts < 0 || t.ReadyProbeAttempts < 0 {
		return fmt.Errorf("config: attempt counts must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) applyEnv() {
	if path := os.Getenv(EnvCLIPath); path != "" {
		c.CLIPath = path
	}
}

func getDataDir() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return filepath.Join(dir, "winpkg")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "winpkg")
	}
	return filepath.Join(home, ".local", "share", "winpkg")
}
