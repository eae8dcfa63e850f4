// internal/cli/root.go
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/arc-language/winpkg"
	"github.com/arc-language/winpkg/internal/logging"
	"github.com/arc-language/winpkg/pkg/core"
)

const version = "0.1.0"

var (
	cfgFile   string
	cliPath   string
	logFormat string
	debug     bool
	config    *core.Config
)

// newManager builds the orchestration core; tests replace it.
var newManager = func(cfg *core.Config, logger *slog.Logger) (*winpkg.Manager, error) {
	return winpkg.NewManager(winpkg.Options{Config: cfg, Logger: logger})
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "winpkg",
	Short: "Windows package manager orchestration",
	Long: `winpkg - drives winget for unattended installs and removals

Detects installed packages, installs and uninstalls with live progress,
and keeps the App Installer that provides winget registered and current.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute executes the root command. An interrupt cancels the running
// operation and tears down the winget process tree.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is %APPDATA%\\winpkg\\config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cliPath, "cli-path", "", "winget executable to use instead of the system one")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add commands
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	var err error
	config, err = core.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		config = core.DefaultConfig()
	}

	// Override config with flags
	if cliPath != "" {
		config.CLIPath = cliPath
	}
	if logFormat != "" {
		config.Log.Format = logFormat
	}
	if debug {
		config.Debug = true
	}
}

// openManager creates the logger and manager for one command run. The
// returned func closes the log file.
func openManager(cmd *cobra.Command) (*winpkg.Manager, func(), error) {
	level := config.Log.Level
	if config.Debug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: config.Log.Format,
		File:   config.Log.File,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logging: %w", err)
	}
	m, err := newManager(config, logger.Logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, fmt.Errorf("initializing winpkg: %w", err)
	}
	return m, func() { _ = logger.Close() }, nil
}
