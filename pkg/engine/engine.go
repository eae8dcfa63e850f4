// pkg/engine/engine.go

// Package engine runs winget install and uninstall as child processes,
// turning their output into progress and their exit codes into results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arc-language/winpkg/internal/retry"
	"github.com/arc-language/winpkg/pkg/native"
	"github.com/arc-language/winpkg/pkg/proctree"
	"github.com/arc-language/winpkg/pkg/winget"
)

// KillTreeFunc tears down a process tree. proctree.KillTree is the default.
type KillTreeFunc func(ctx context.Context, pid int, opts proctree.Options) (proctree.Report, error)

// Config wires an Engine. Zero durations take the winget package defaults.
type Config struct {
	// Client runs winget; nil means no CLI is installed.
	Client  *winget.Client
	Session *native.Session
	Logger  *slog.Logger

	// CLIPresent overrides the on-disk check of Client's executable.
	CLIPresent func() bool

	NativeInitTimeout time.Duration
	ProgressThrottle  time.Duration
	KillBudget        time.Duration
	VerifyInterval    time.Duration
	VerifyTimeout     time.Duration
	HelperNames       []string
	KillTree          KillTreeFunc
}

// Engine drives package operations. It is safe for concurrent use; every
// call owns its own child process.
type Engine struct {
	client            *winget.Client
	session           *native.Session
	logger            *slog.Logger
	cliPresent        func() bool
	nativeInitTimeout time.Duration
	throttle          time.Duration
	killBudget        time.Duration
	verifyInterval    time.Duration
	verifyTimeout     time.Duration
	helperNames       []string
	killTree          KillTreeFunc
	now               func() time.Time
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		client:            cfg.Client,
		session:           cfg.Session,
		logger:            cfg.Logger,
		cliPresent:        cfg.CLIPresent,
		nativeInitTimeout: orDefault(cfg.NativeInitTimeout, winget.DefaultNativeInitTimeout),
		throttle:          orDefault(cfg.ProgressThrottle, winget.DefaultProgressThrottle),
		killBudget:        orDefault(cfg.KillBudget, winget.DefaultKillBudget),
		verifyInterval:    orDefault(cfg.VerifyInterval, winget.DefaultVerifyInterval),
		verifyTimeout:     orDefault(cfg.VerifyTimeout, winget.DefaultVerifyTimeout),
		helperNames:       cfg.HelperNames,
		killTree:          cfg.KillTree,
		now:               time.Now,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.cliPresent == nil {
		e.cliPresent = func() bool {
			if e.client == nil {
				return false
			}
			_, ok := winget.Locate(e.client.Path())
			return ok
		}
	}
	if e.helperNames == nil {
		e.helperNames = winget.HelperProcessNames
	}
	if e.killTree == nil {
		e.killTree = proctree.KillTree
	}
	return e
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// IsAvailable reports whether the winget executable exists. When it does not,
// a bounded native initialization is tried as a secondary signal.
func (e *Engine) IsAvailable(ctx context.Context) bool {
	if e.cliPresent() {
		return true
	}
	if e.session == nil {
		return false
	}
	ok, timedOut := e.session.EnsureInitializedWithin(ctx, e.nativeInitTimeout)
	if timedOut {
		e.logger.Debug("native availability probe timed out")
	}
	return ok
}

// Install installs pkg. opts may be nil; progress may be nil.
//
// The error is non-nil only when ctx ended before the outcome was known;
// every other failure is reported through the result.
func (e *Engine) Install(ctx context.Context, pkg winget.PackageIdentity, opts *winget.InstallationOptions, progress winget.ProgressCallback) (winget.OperationResult, error) {
	op := e.newOperation(kindInstall, pkg, progress)
	if res, ok, err := e.precondition(ctx, op); !ok {
		return res, err
	}

	var o winget.InstallationOptions
	if opts != nil {
		o = *opts
	}
	code, err := e.run(ctx, op, InstallArgs(pkg, o))
	if err != nil {
		return e.abort(ctx, op, err)
	}
	if !winget.IsSuccess(code) {
		return e.fail(op, code), nil
	}

	op.transition(StateComplete)
	op.flushComplete()
	op.logger.Info("install succeeded", "exit_code", code.String())
	return winget.Succeeded(installMessage(pkg, code)), nil
}

// Uninstall removes pkg. A success or ambiguous exit code is confirmed by
// polling `winget list` until the package is gone or the verification window
// ends; a package that is still listed at that point is reported as removed
// with a warning in the log.
//
// The error is non-nil only when ctx ended before the outcome was known.
func (e *Engine) Uninstall(ctx context.Context, pkg winget.PackageIdentity, progress winget.ProgressCallback) (winget.OperationResult, error) {
	op := e.newOperation(kindUninstall, pkg, progress)
	if res, ok, err := e.precondition(ctx, op); !ok {
		return res, err
	}

	code, err := e.run(ctx, op, UninstallArgs(pkg))
	if err != nil {
		return e.abort(ctx, op, err)
	}
	if !winget.IsSuccess(code) && !winget.IsVerifiable(code) {
		return e.fail(op, code), nil
	}
	if !winget.IsSuccess(code) {
		op.logger.Info("uninstall exit code is ambiguous, verifying", "exit_code", code.String())
	}

	op.transition(StateVerifying)
	gone, err := e.verifyRemoved(ctx, op)
	if err != nil {
		return e.abort(ctx, op, err)
	}

	op.transition(StateComplete)
	op.flushComplete()
	if !gone {
		op.logger.Warn("package is still listed after uninstall; the uninstaller may be waiting for input",
			"exit_code", code.String(), "waited", e.verifyTimeout.String())
		return winget.Succeeded(fmt.Sprintf("%s uninstall finished, but it is still listed as installed", pkg.Label())), nil
	}
	op.logger.Info("uninstall succeeded", "exit_code", code.String())
	return winget.Succeeded(fmt.Sprintf("%s uninstalled", pkg.Label())), nil
}

func (e *Engine) newOperation(k kind, pkg winget.PackageIdentity, progress winget.ProgressCallback) *operation {
	id := uuid.NewString()
	return &operation{
		id:       id,
		kind:     k,
		pkg:      pkg,
		logger:   e.logger.With("op_id", id, "op", k.String(), "package", pkg.ID),
		sink:     progress,
		throttle: e.throttle,
		now:      e.now,
	}
}

func (e *Engine) precondition(ctx context.Context, op *operation) (winget.OperationResult, bool, error) {
	if err := ctx.Err(); err != nil {
		op.transition(StateCancelled)
		return winget.OperationResult{Message: "operation cancelled"}, false, err
	}
	if e.IsAvailable(ctx) {
		return winget.OperationResult{}, true, nil
	}
	if err := ctx.Err(); err != nil {
		op.transition(StateCancelled)
		return winget.OperationResult{Message: "operation cancelled"}, false, err
	}
	op.transition(StateFailed)
	op.logger.Warn("package manager is not available")
	return winget.Failed(winget.FailureOther, "package manager is not available"), false, nil
}

// run starts winget, streams its output into op and returns the normalized
// exit code. Cancellation of ctx tears the process tree down in the
// background; run then returns ctx.Err().
func (e *Engine) run(ctx context.Context, op *operation, args []string) (winget.ExitCode, error) {
	if e.client == nil {
		return 0, errors.New("winget executable not found")
	}
	op.transition(StateResolving)

	started := time.Now()
	proc, err := e.client.Start(args...)
	if err != nil {
		return 0, err
	}
	op.logger.Debug("process started", "pid", proc.Pid())

	stop := context.AfterFunc(ctx, func() {
		e.teardown(op, proc, started)
	})
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(op, proc.Stdout(), op.handleStdout)
	}()
	go func() {
		defer wg.Done()
		pump(op, proc.Stderr(), op.handleStderr)
	}()
	wg.Wait()

	raw, waitErr := proc.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if waitErr != nil {
		return 0, fmt.Errorf("waiting for winget: %w", waitErr)
	}
	return winget.NormalizeExitCode(raw), nil
}

func pump(op *operation, r io.Reader, handle func(string)) {
	sc := winget.NewLineScanner(r)
	for sc.Scan() {
		handle(sc.Text())
	}
	if err := sc.Err(); err != nil {
		op.logger.Debug("output reader stopped", "error", err)
		// keep the pipe drained so the child cannot block on a full buffer
		_, _ = io.Copy(io.Discard, r)
	}
}

func (e *Engine) teardown(op *operation, proc winget.Process, since time.Time) {
	op.logger.Warn("cancellation requested, terminating process tree", "pid", proc.Pid())
	report, err := e.killTree(context.Background(), proc.Pid(), proctree.Options{
		Budget:      e.killBudget,
		HelperNames: e.helperNames,
		Since:       since,
		Logger:      op.logger,
	})
	if err != nil {
		op.logger.Warn("process tree teardown incomplete", "error", err)
	}
	_ = proc.Kill()
	op.logger.Info("process tree terminated", "killed", len(report.Killed))
}

func (e *Engine) verifyRemoved(ctx context.Context, op *operation) (bool, error) {
	attempt := 0
	return retry.Poll(ctx, e.verifyInterval, e.verifyTimeout, func() bool {
		attempt++
		res, err := e.client.Run(ctx, ListArgs(op.pkg)...)
		if err != nil {
			op.logger.Debug("verification query failed", "attempt", attempt, "error", err)
			return false
		}
		presence := winget.ParseListPresence(res, op.pkg.ID)
		op.logger.Debug("verification query", "attempt", attempt, "presence", presence.String())
		return presence == winget.PresenceAbsent
	})
}

func (e *Engine) abort(ctx context.Context, op *operation, err error) (winget.OperationResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		op.transition(StateCancelled)
		op.logger.Info("operation cancelled")
		return winget.OperationResult{Message: "operation cancelled"}, ctxErr
	}
	op.transition(StateFailed)
	op.logger.Error("could not run winget", "error", err)
	return winget.Failed(winget.FailureOther, fmt.Sprintf("could not run winget: %v", err)), nil
}

func (e *Engine) fail(op *operation, code winget.ExitCode) winget.OperationResult {
	reason := winget.Classify(code)
	op.transition(StateFailed)
	op.logger.Warn(op.kind.String()+" failed", "exit_code", code.String(), "reason", reason.String())

	msg := reason.Describe()
	if line := op.lastError(); line != "" {
		msg += ": " + line
	}
	return winget.Failed(reason, msg)
}

func installMessage(pkg winget.PackageIdentity, code winget.ExitCode) string {
	switch code {
	case winget.CodeInstallAlreadyInstalled:
		return pkg.Label() + " is already installed"
	case winget.CodeUpdateNotApplicable:
		return pkg.Label() + " is already up to date"
	case winget.CodeInstallRebootRequiredToFinish, winget.CodeInstallRebootInitiated:
		return pkg.Label() + " installed; a restart is required to finish"
	default:
		return pkg.Label() + " installed"
	}
}

// InstallArgs builds the winget arguments for installing pkg.
func InstallArgs(pkg winget.PackageIdentity, opts winget.InstallationOptions) []string {
	args := []string{winget.CmdInstall, winget.FlagID, pkg.ID}
	if opts.Version != "" {
		args = append(args, winget.FlagVersion, opts.Version)
	}
	if pkg.Source != "" {
		args = append(args, winget.FlagSource, pkg.Source)
	}
	return append(args,
		winget.FlagSilent,
		winget.FlagAcceptPackageAgreements,
		winget.FlagAcceptSourceAgreements,
		winget.FlagDisableInteractivity,
		winget.FlagForce,
	)
}

// UninstallArgs builds the winget arguments for removing pkg.
func UninstallArgs(pkg winget.PackageIdentity) []string {
	args := []string{winget.CmdUninstall, winget.FlagID, pkg.ID}
	if pkg.Source != "" {
		args = append(args, winget.FlagSource, pkg.Source)
	}
	return append(args,
		winget.FlagSilent,
		winget.FlagAcceptSourceAgreements,
		winget.FlagDisableInteractivity,
		winget.FlagForce,
	)
}

// ListArgs builds the winget arguments for checking whether pkg is installed.
func ListArgs(pkg winget.PackageIdentity) []string {
	return []string{
		winget.CmdList, winget.FlagID, pkg.ID, winget.FlagExact,
		winget.FlagAcceptSourceAgreements, winget.FlagDisableInteractivity,
	}
}
