// pkg/bootstrap/bootstrapper.go

// Package bootstrap makes sure winget itself is present and reachable:
// it registers or installs the App Installer, probes the native API until
// it answers, upgrades the App Installer and provisions a bundled winget.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/arc-language/winpkg/internal/retry"
	"github.com/arc-language/winpkg/pkg/native"
	"github.com/arc-language/winpkg/pkg/platform"
	"github.com/arc-language/winpkg/pkg/winget"
)

// Config wires a Bootstrapper. Zero durations and counts take the winget
// package defaults.
type Config struct {
	Session *native.Session
	Runner  winget.Runner
	Logger  *slog.Logger

	// PowerShell runs Add-AppxPackage; empty uses native.DefaultPowerShell.
	PowerShell string
	// AppInstallerBundle is a local .msixbundle to install. When empty the
	// App Installer is re-registered by family name.
	AppInstallerBundle string
	// BundledDir holds the bundled winget; BundleArchive, when set, is
	// extracted there if the executable is missing.
	BundledDir    string
	BundleArchive string
	// MinVersion skips Upgrade when the system winget is at least this.
	MinVersion string

	NativeInitTimeout time.Duration
	ProbeAttempts     int
	ProbeInterval     time.Duration
	UpgradeTimeout    time.Duration

	// Probe inspects the host; platform.Detect when nil.
	Probe func() (*platform.Platform, error)
	// SystemExecutable finds the system winget; platform.SystemExecutable
	// when nil.
	SystemExecutable func() (string, bool)
}

// Bootstrapper owns the App Installer lifecycle and the ready notification.
type Bootstrapper struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[uint64]func()
	nextID      uint64
	// notified is the session success count last announced.
	notified uint64
	bundleMu    sync.Mutex
}

// New returns a Bootstrapper for cfg.
func New(cfg Config) *Bootstrapper {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Runner == nil {
		cfg.Runner = winget.ExecRunner{}
	}
	if cfg.PowerShell == "" {
		cfg.PowerShell = native.DefaultPowerShell
	}
	if cfg.NativeInitTimeout <= 0 {
		cfg.NativeInitTimeout = winget.DefaultNativeInitTimeout
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = winget.DefaultReadyProbeAttempts
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = winget.DefaultReadyProbeInterval
	}
	if cfg.UpgradeTimeout <= 0 {
		cfg.UpgradeTimeout = winget.DefaultUpgradeTimeout
	}
	if cfg.Probe == nil {
		cfg.Probe = platform.Detect
	}
	if cfg.SystemExecutable == nil {
		cfg.SystemExecutable = platform.SystemExecutable
	}
	return &Bootstrapper{
		cfg:         cfg,
		logger:      cfg.Logger,
		subscribers: make(map[uint64]func()),
	}
}

// OnReady registers fn to be called once for every initialization of the
// native API that the bootstrapper observes. The returned func unsubscribes.
func (b *Bootstrapper) OnReady(fn func()) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// fireReady notifies subscribers unless the current initialization was
// already announced.
func (b *Bootstrapper) fireReady() {
	if b.cfg.Session == nil {
		return
	}
	n := b.cfg.Session.Successes()
	b.mu.Lock()
	if n <= b.notified {
		b.mu.Unlock()
		return
	}
	b.notified = n
	subs := make([]func(), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	b.logger.Info("package manager is ready", "subscribers", len(subs))
	for _, fn := range subs {
		fn()
	}
}

// EnsureReady prepares the native path and reports whether any winget
// executable, system or bundled, is available. The native outcome does not
// affect the result; a native path that cannot work is marked timed out so
// later callers go straight to the CLI.
func (b *Bootstrapper) EnsureReady(ctx context.Context) bool {
	session := b.cfg.Session

	p, err := b.cfg.Probe()
	if err != nil {
		b.logger.Debug("platform probe incomplete", "error", err)
	}
	if p != nil {
		b.logger.Info("App Installer registration", "registered", p.AppInstallerRegistered, "os", p.Version)
		if p.ElevationMismatch() && session != nil {
			b.logger.Warn("running elevated under a non-elevated desktop; native API disabled")
			session.MarkTimedOut()
		}
	}

	if session != nil && !session.State().TimedOut {
		ok, timedOut := session.EnsureInitializedWithin(ctx, b.cfg.NativeInitTimeout)
		switch {
		case timedOut:
			b.logger.Warn("native API did not initialize in time; using CLI only",
				"timeout", b.cfg.NativeInitTimeout.String())
			session.MarkTimedOut()
		case ok:
			b.fireReady()
		case !ok:
			b.logger.Info("native API unavailable; using CLI")
		}
	}

	path, found := b.Executable()
	if found {
		b.logger.Debug("winget executable", "path", path)
	} else {
		b.logger.Warn("no winget executable found")
	}
	return found
}

// Install registers or installs the App Installer, then probes the native
// API until it answers. It returns true when the native API became usable
// or, failing that, when a winget executable exists.
func (b *Bootstrapper) Install(ctx context.Context) bool {
	if err := b.runInstaller(ctx); err != nil {
		b.logger.Error("App Installer installation failed", "error", err)
		return false
	}
	b.logger.Info("App Installer installed")

	if session := b.cfg.Session; session != nil {
		for attempt := 1; attempt <= b.cfg.ProbeAttempts; attempt++ {
			if attempt > 1 {
				if err := retry.Sleep(ctx, b.cfg.ProbeInterval); err != nil {
					return false
				}
			}
			ok, timedOut := session.ReinitializeWithin(ctx, b.cfg.NativeInitTimeout)
			if ok {
				b.fireReady()
				return true
			}
			b.logger.Debug("native API not ready yet", "attempt", attempt, "timed_out", timedOut)
		}
	}
	if ctx.Err() != nil {
		return false
	}

	_, found := b.Executable()
	if found {
		b.logger.Warn("native API still unavailable after install; continuing with CLI only")
	}
	return found
}

func (b *Bootstrapper) runInstaller(ctx context.Context) error {
	script := "Add-AppxPackage -RegisterByFamilyName -MainPackage " + winget.AppInstallerFamilyName
	if b.cfg.AppInstallerBundle != "" {
		script = "Add-AppxPackage -Path '" + strings.ReplaceAll(b.cfg.AppInstallerBundle, "'", "''") + "' -ForceApplicationShutdown"
	}
	ps := winget.NewClient(b.cfg.PowerShell, b.cfg.Runner, b.logger)
	res, err := ps.Run(ctx, "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-Command", "$ErrorActionPreference = 'Stop'; "+script)
	if err != nil {
		return err
	}
	if res.ExitCode != winget.CodeSuccess {
		return fmt.Errorf("Add-AppxPackage exited with %s: %s", res.ExitCode, strings.Join(res.Stderr, " "))
	}
	return nil
}

// Upgrade upgrades the App Installer with the bundled winget. Failures are
// logged, never returned; the result only says whether it worked.
func (b *Bootstrapper) Upgrade(ctx context.Context) bool {
	if b.upToDate(ctx) {
		return true
	}

	path, ok := b.BundledExecutable()
	if !ok {
		b.logger.Warn("cannot upgrade App Installer: no bundled winget")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.UpgradeTimeout)
	defer cancel()
	res, err := winget.NewClient(path, b.cfg.Runner, b.logger).Run(ctx,
		winget.CmdUpgrade, winget.FlagID, winget.AppInstallerID,
		winget.FlagSilent,
		winget.FlagAcceptPackageAgreements,
		winget.FlagAcceptSourceAgreements,
		winget.FlagDisableInteractivity,
	)
	if err != nil {
		b.logger.Warn("App Installer upgrade did not finish", "error", err)
		return false
	}
	if !winget.IsSuccess(res.ExitCode) {
		b.logger.Warn("App Installer upgrade failed",
			"exit_code", res.ExitCode.String(), "reason", winget.Classify(res.ExitCode).String())
		return false
	}
	b.logger.Info("App Installer upgraded", "exit_code", res.ExitCode.String())
	return true
}

func (b *Bootstrapper) upToDate(ctx context.Context) bool {
	if b.cfg.MinVersion == "" {
		return false
	}
	want, err := version.NewVersion(b.cfg.MinVersion)
	if err != nil {
		b.logger.Warn("ignoring invalid min_version", "min_version", b.cfg.MinVersion, "error", err)
		return false
	}
	path, ok := b.cfg.SystemExecutable()
	if !ok {
		return false
	}
	current, err := b.VersionOf(ctx, path)
	if err != nil {
		b.logger.Debug("could not read winget version", "error", err)
		return false
	}
	have, err := version.NewVersion(current)
	if err != nil {
		b.logger.Debug("unparseable winget version", "version", current, "error", err)
		return false
	}
	if have.GreaterThanOrEqual(want) {
		b.logger.Info("App Installer is current, skipping upgrade", "version", have.String(), "min_version", want.String())
		return true
	}
	return false
}

// Version reports the version of the winget that would be used.
func (b *Bootstrapper) Version(ctx context.Context) (string, error) {
	path, ok := b.Executable()
	if !ok {
		return "", platform.ErrNoExecutable
	}
	return b.VersionOf(ctx, path)
}

// VersionOf runs `winget --version` with the executable at path.
func (b *Bootstrapper) VersionOf(ctx context.Context, path string) (string, error) {
	res, err := winget.NewClient(path, b.cfg.Runner, b.logger).Run(ctx, "--version")
	if err != nil {
		return "", err
	}
	if res.ExitCode != winget.CodeSuccess {
		return "", fmt.Errorf("winget --version exited with %s", res.ExitCode)
	}
	v := winget.ParseVersion(res.Stdout)
	if v == "" {
		return "", fmt.Errorf("winget --version printed nothing")
	}
	return v, nil
}

// Executable returns the system winget, else the bundled one.
func (b *Bootstrapper) Executable() (string, bool) {
	if path, ok := b.cfg.SystemExecutable(); ok {
		return path, true
	}
	return b.BundledExecutable()
}

// BundledExecutable returns the bundled winget, extracting the configured
// archive first when the executable is missing.
func (b *Bootstrapper) BundledExecutable() (string, bool) {
	if b.cfg.BundledDir == "" {
		return "", false
	}
	b.bundleMu.Lock()
	defer b.bundleMu.Unlock()

	if path, ok := platform.BundledExecutable(b.cfg.BundledDir); ok {
		return path, true
	}
	if b.cfg.BundleArchive == "" {
		return "", false
	}
	if err := ExtractBundle(b.cfg.BundleArchive, b.cfg.BundledDir, b.logger); err != nil {
		b.logger.Warn("could not provision bundled winget", "archive", b.cfg.BundleArchive, "error", err)
		return "", false
	}
	return platform.BundledExecutable(b.cfg.BundledDir)
}
