// winpkg.go
package winpkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/arc-language/winpkg/pkg/bootstrap"
	"github.com/arc-language/winpkg/pkg/core"
	"github.com/arc-language/winpkg/pkg/detect"
	"github.com/arc-language/winpkg/pkg/engine"
	"github.com/arc-language/winpkg/pkg/native"
	"github.com/arc-language/winpkg/pkg/platform"
	"github.com/arc-language/winpkg/pkg/registry"
	"github.com/arc-language/winpkg/pkg/winget"
)

// Re-export the types callers need for convenience
type (
	PackageIdentity     = winget.PackageIdentity
	InstallationOptions = winget.InstallationOptions
	OperationResult     = winget.OperationResult
	Progress            = winget.Progress
	ProgressCallback    = winget.ProgressCallback
	FailureReason       = winget.FailureReason
	Config              = core.Config
	// RegistryEntry is the metadata of an alias in the registry directory.
	RegistryEntry = registry.Entry
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return core.DefaultConfig()
}

// Options wires a Manager. Only Config is normally set; the rest replace
// host integrations in tests.
type Options struct {
	Config *core.Config
	Logger *slog.Logger

	// Runner starts winget and PowerShell; winget.ExecRunner when nil.
	Runner winget.Runner
	// NativeAPI is the automation API; a PowerShellAPI when nil.
	NativeAPI native.API
	// Probe inspects the host; platform.Detect when nil.
	Probe func() (*platform.Platform, error)
	// SystemExecutable finds the system winget; platform.SystemExecutable
	// when nil.
	SystemExecutable func() (string, bool)
}

// Status is a point-in-time view of the orchestration core.
type Status struct {
	Platform   *platform.Platform
	Executable string
	Version    string
	Native     native.State
}

// Manager is the orchestration core behind core.Orchestrator. It owns the
// single native session of the process and builds the detector and engine
// for whichever winget executable is current.
type Manager struct {
	config   *core.Config
	logger   *slog.Logger
	runner   winget.Runner
	session  *native.Session
	boot     *bootstrap.Bootstrapper
	registry *registry.Registry
	probe    func() (*platform.Platform, error)

	mu       sync.Mutex
	path     string
	built    bool
	detector *detect.Detector
	engine   *engine.Engine
}

var _ core.Orchestrator = (*Manager)(nil)

// NewManager creates a Manager from opts.
func NewManager(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runner := opts.Runner
	if runner == nil {
		runner = winget.ExecRunner{}
	}
	api := opts.NativeAPI
	if api == nil {
		api = native.NewPowerShellAPI(cfg.PowerShell, runner, logger)
	}
	probe := opts.Probe
	if probe == nil {
		probe = platform.Detect
	}

	systemExecutable := opts.SystemExecutable
	if cfg.CLIPath != "" {
		systemExecutable = func() (string, bool) {
			return winget.Locate(cfg.CLIPath)
		}
	}

	session := native.NewSession(api, logger)
	t := cfg.Timeouts
	boot := bootstrap.New(bootstrap.Config{
		Session:            session,
		Runner:             runner,
		Logger:             logger,
		PowerShell:         cfg.PowerShell,
		AppInstallerBundle: cfg.AppInstallerBundle,
		BundledDir:         cfg.BundledDir,
		BundleArchive:      cfg.BundleArchive,
		MinVersion:         cfg.MinVersion,
		NativeInitTimeout:  t.NativeInit,
		ProbeAttempts:      t.ReadyProbeAttempts,
		ProbeInterval:      t.ReadyProbeInterval,
		UpgradeTimeout:     t.Upgrade,
		Probe:              probe,
		SystemExecutable:   systemExecutable,
	})

	m := &Manager{
		config:  cfg,
		logger:  logger,
		runner:  runner,
		session: session,
		boot:    boot,
		probe:   probe,
	}
	if cfg.RegistryDir != "" {
		m.registry = registry.New(cfg.RegistryDir)
	}
	return m, nil
}

// executable returns the configured winget, else the one the bootstrapper
// finds, else "".
func (m *Manager) executable() string {
	if m.config.CLIPath != "" {
		return m.config.CLIPath
	}
	path, _ := m.boot.Executable()
	return path
}

// components returns the detector and engine for the current executable,
// rebuilding them when it changed, for example after a bootstrap.
func (m *Manager) components() (*detect.Detector, *engine.Engine) {
	path := m.executable()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.built && path == m.path {
		return m.detector, m.engine
	}

	var client *winget.Client
	if path != "" {
		client = winget.NewClient(path, m.runner, m.logger)
	}
	t := m.config.Timeouts
	m.detector = detect.New(detect.Config{
		Session:    m.session,
		Client:     client,
		Logger:     m.logger,
		Window:     t.DetectionWindow,
		Attempts:   t.ExportAttempts,
		RetryDelay: t.ExportRetryDelay,
	})
	m.engine = engine.New(engine.Config{
		Client:            client,
		Session:           m.session,
		Logger:            m.logger,
		NativeInitTimeout: t.NativeInit,
		ProgressThrottle:  t.ProgressThrottle,
		KillBudget:        t.KillBudget,
		VerifyInterval:    t.VerifyInterval,
		VerifyTimeout:     t.VerifyTimeout,
	})
	m.path = path
	m.built = true
	m.logger.Debug("winget components ready", "path", path)
	return m.detector, m.engine
}

// Resolve maps name through the alias registry. Without a registry, or for
// names it does not know, name is returned as the identifier.
func (m *Manager) Resolve(name string) (PackageIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PackageIdentity{}, &Error{Op: "resolve", Err: ErrInvalidPackage}
	}
	id, err := m.registry.Identity(name)
	if err != nil {
		return PackageIdentity{}, &Error{Op: "resolve", Package: name, Err: err}
	}
	if id.ID != name {
		m.logger.Debug("resolved alias", "alias", name, "package", id.ID)
	}
	return id, nil
}

// resolvePackage fills pkg from the registry. Explicit Source and
// DisplayName values win over the registry's.
func (m *Manager) resolvePackage(pkg PackageIdentity) (PackageIdentity, error) {
	id, err := m.Resolve(pkg.ID)
	if err != nil {
		return pkg, err
	}
	if pkg.Source != "" {
		id.Source = pkg.Source
	}
	if pkg.DisplayName != "" {
		id.DisplayName = pkg.DisplayName
	}
	return id, nil
}

// DetectInstalled lists installed package identifiers
func (m *Manager) DetectInstalled(ctx context.Context) (winget.IDSet, error) {
	d, _ := m.components()
	ids, err := d.InstalledIDs(ctx)
	if err != nil && ctx.Err() == nil {
		return ids, &Error{Op: "detect", Err: err}
	}
	return ids, err
}

// GetInstallerType reports the installer technology of a package, or ""
// when it cannot be determined.
func (m *Manager) GetInstallerType(ctx context.Context, name string) (string, error) {
	pkg, err := m.Resolve(name)
	if err != nil {
		return "", err
	}
	d, _ := m.components()
	return d.InstallerType(ctx, pkg.ID)
}

// Install installs a package. The error is reserved for cancellation.
func (m *Manager) Install(ctx context.Context, pkg PackageIdentity, opts *InstallationOptions, progress ProgressCallback) (OperationResult, error) {
	resolved, err := m.resolvePackage(pkg)
	if err != nil {
		return invalid(err), nil
	}
	_, e := m.components()
	return e.Install(ctx, resolved, opts, progress)
}

// Uninstall removes a package. The error is reserved for cancellation.
func (m *Manager) Uninstall(ctx context.Context, pkg PackageIdentity, progress ProgressCallback) (OperationResult, error) {
	resolved, err := m.resolvePackage(pkg)
	if err != nil {
		return invalid(err), nil
	}
	_, e := m.components()
	return e.Uninstall(ctx, resolved, progress)
}

func invalid(err error) OperationResult {
	if errors.Is(err, ErrInvalidPackage) {
		return winget.Failed(winget.FailurePackageNotFound, err.Error())
	}
	return winget.Failed(winget.FailureOther, err.Error())
}

// IsAvailable reports whether packages can be installed right now.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	_, e := m.components()
	return e.IsAvailable(ctx)
}

// EnsureReady prepares the native path and reports whether winget is usable
func (m *Manager) EnsureReady(ctx context.Context) bool {
	return m.boot.EnsureReady(ctx)
}

// Bootstrap installs the App Installer
func (m *Manager) Bootstrap(ctx context.Context) bool {
	return m.boot.Install(ctx)
}

// Upgrade upgrades the App Installer
func (m *Manager) Upgrade(ctx context.Context) bool {
	return m.boot.Upgrade(ctx)
}

// OnReady subscribes to the ready notification
func (m *Manager) OnReady(fn func()) (cancel func()) {
	return m.boot.OnReady(fn)
}

// Aliases lists the names known to the alias registry.
func (m *Manager) Aliases() ([]string, error) {
	if m.registry == nil {
		return nil, nil
	}
	return m.registry.Names()
}

// Status reports the host, the winget in use and the native session. A host
// that cannot run winget is reported along with an error wrapping
// ErrPlatformNotSupported.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	p, probeErr := m.probe()
	st := &Status{
		Platform:   p,
		Executable: m.executable(),
		Native:     m.session.State(),
	}
	if st.Executable != "" {
		v, err := m.boot.VersionOf(ctx, st.Executable)
		if err != nil {
			m.logger.Debug("could not read winget version", "error", err)
		}
		st.Version = v
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	if probeErr != nil {
		return st, &Error{Op: "status", Err: fmt.Errorf("%w: %v", ErrPlatformNotSupported, probeErr)}
	}
	return st, nil
}
