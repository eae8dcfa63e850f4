package cli

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/winpkg"
	"github.com/arc-language/winpkg/internal/testutil"
	"github.com/arc-language/winpkg/pkg/core"
	"github.com/arc-language/winpkg/pkg/native"
	"github.com/arc-language/winpkg/pkg/native/nativetest"
	"github.com/arc-language/winpkg/pkg/platform"
	"github.com/arc-language/winpkg/pkg/winget"
	"github.com/arc-language/winpkg/pkg/winget/wingettest"
)

// useFakes points the CLI at a scripted winget and native API.
func useFakes(t *testing.T, api native.API, steps map[string]wingettest.Step) *wingettest.Runner {
	t.Helper()
	exe := testutil.WriteFile(t, t.TempDir(), "winget.exe", "")
	runner := &wingettest.Runner{Handler: func(_ string, args []string) wingettest.Step {
		if len(args) > 0 {
			if step, ok := steps[args[0]]; ok {
				return step
			}
		}
		return wingettest.Step{Exit: 1}
	}}
	if api == nil {
		api = &nativetest.Fake{}
	}

	orig := newManager
	t.Cleanup(func() { newManager = orig })
	newManager = func(cfg *core.Config, logger *slog.Logger) (*winpkg.Manager, error) {
		cfg.CLIPath = exe
		cfg.BundledDir = ""
		cfg.Timeouts.ProgressThrottle = time.Millisecond
		cfg.Timeouts.VerifyInterval = 10 * time.Millisecond
		cfg.Timeouts.VerifyTimeout = time.Second
		return winpkg.NewManager(winpkg.Options{
			Config:    cfg,
			Logger:    logger,
			Runner:    runner,
			NativeAPI: api,
			Probe: func() (*platform.Platform, error) {
				return &platform.Platform{OS: "windows", Arch: "amd64"}, nil
			},
		})
	}
	return runner
}

// syncBuffer is written by log records and progress callbacks at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &syncBuffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	t.Setenv(core.EnvCLIPath, "")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	rootCmd.SetArgs(append(args, "--config", cfgPath))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestInstallCommand(t *testing.T) {
	runner := useFakes(t, nil, map[string]wingettest.Step{
		winget.CmdInstall: {Stdout: []string{"Found Git [Git.Git] Version 2.44.0", "Successfully installed"}},
	})

	out, err := runCLI(t, "install", "winget:Git.Git@2.44.0")
	require.NoError(t, err)
	assert.Contains(t, out, "Installing winget:Git.Git@2.44.0...")
	assert.Contains(t, out, "Complete")
	assert.Contains(t, out, "✓")

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"install", "--id", "Git.Git", "--version", "2.44.0", "--source", "winget",
		"--silent", "--accept-package-agreements", "--accept-source-agreements",
		"--disable-interactivity", "--force",
	}, calls[0])
}

func TestInstallCommandFailure(t *testing.T) {
	useFakes(t, nil, map[string]wingettest.Step{
		winget.CmdInstall: {Exit: wingettest.Code(winget.CodeNoApplicationsFound)},
	})

	out, err := runCLI(t, "install", "Nope.Nope", ":bad")
	assert.EqualError(t, err, "2 of 2 packages failed")
	assert.Contains(t, out, "✗ Failed Nope.Nope")
	assert.Contains(t, out, "empty source")
}

func TestUninstallCommand(t *testing.T) {
	runner := useFakes(t, nil, map[string]wingettest.Step{
		winget.CmdUninstall: {Stdout: []string{"Successfully uninstalled"}},
		winget.CmdList:      {Exit: wingettest.Code(winget.CodeNoApplicationsFound)},
	})

	out, err := runCLI(t, "uninstall", "Git.Git")
	require.NoError(t, err)
	assert.Contains(t, out, "Git.Git uninstalled")
	assert.Equal(t, 1, runner.CallsTo(winget.CmdUninstall))
}

func TestListCommand(t *testing.T) {
	api := &nativetest.Fake{
		CatalogList: []native.CatalogRef{{Name: "winget"}},
		Installed:   map[string][]native.Match{"winget": {{ID: "Git.Git"}, {ID: "7zip.7zip"}}},
	}
	useFakes(t, api, nil)

	out, err := runCLI(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed packages (2):")
	assert.Contains(t, out, "  7zip.7zip\n  Git.Git\n")
}

func TestInfoCommand(t *testing.T) {
	useFakes(t, nil, map[string]wingettest.Step{
		winget.CmdShow: {Stdout: []string{"Installer Type: msi"}},
	})

	out, err := runCLI(t, "info", "Python.Python.3.12")
	require.NoError(t, err)
	assert.Contains(t, out, "Package: Python.Python.3.12")
	assert.Contains(t, out, "Installer Type: msi")
}

func TestBootstrapStatusCommand(t *testing.T) {
	useFakes(t, nil, map[string]wingettest.Step{
		"--version": {Stdout: []string{"v1.8.1911"}},
	})

	out, err := runCLI(t, "bootstrap", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "(v1.8.1911)")
	assert.Contains(t, out, "Native API:")
}

func TestBootstrapEnsureCommand(t *testing.T) {
	useFakes(t, nil, nil)

	out, err := runCLI(t, "bootstrap", "ensure")
	require.NoError(t, err)
	assert.Contains(t, out, "winget is ready")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "winpkg version "+version)
}

func TestConfigSaveCommand(t *testing.T) {
	t.Cleanup(func() { logFormat = "" })
	out := filepath.Join(t.TempDir(), "winpkg", "config.yaml")

	stdout, err := runCLI(t, "config", "save", out, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration written to "+out)

	cfg, err := core.LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}
