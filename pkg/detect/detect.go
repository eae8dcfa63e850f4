// pkg/detect/detect.go

// Package detect answers which packages are installed and what kind of
// installer a package uses. Each question is tried against the native API
// first and the winget CLI second.
package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arc-language/winpkg/internal/retry"
	"github.com/arc-language/winpkg/pkg/native"
	"github.com/arc-language/winpkg/pkg/winget"
)

// ErrExportFailed is returned, together with an empty set, when every export
// attempt failed.
var ErrExportFailed = errors.New("winget export failed")

var errNativeUnavailable = errors.New("native API is not initialized")

// Config wires a Detector. Zero durations and counts take the winget package
// defaults.
type Config struct {
	Session *native.Session
	// Client runs the winget CLI; nil disables the CLI path.
	Client *winget.Client
	Logger *slog.Logger

	Window     time.Duration
	Attempts   int
	RetryDelay time.Duration
	// TempDir receives export documents; empty uses os.TempDir.
	TempDir string
}

// Detector implements installed-package and installer-type detection.
type Detector struct {
	session    *native.Session
	client     *winget.Client
	logger     *slog.Logger
	window     time.Duration
	attempts   int
	retryDelay time.Duration
	tempDir    string
}

// New returns a Detector for cfg.
func New(cfg Config) *Detector {
	d := &Detector{
		session:    cfg.Session,
		client:     cfg.Client,
		logger:     cfg.Logger,
		window:     cfg.Window,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
		tempDir:    cfg.TempDir,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.window <= 0 {
		d.window = winget.DefaultDetectionWindow
	}
	if d.attempts <= 0 {
		d.attempts = winget.DefaultExportAttempts
	}
	if d.retryDelay <= 0 {
		d.retryDelay = winget.DefaultExportRetryDelay
	}
	return d
}

// InstalledIDs returns the identifiers of every installed package.
//
// A sources-unreachable export yields an empty set and a nil error; exhausted
// export attempts yield an empty set and an error wrapping ErrExportFailed.
// If ctx ends first, ctx.Err() is returned.
func (d *Detector) InstalledIDs(ctx context.Context) (winget.IDSet, error) {
	ids, err := withinWindow(ctx, d.window, func() (winget.IDSet, error) {
		return d.nativeInstalled(ctx)
	})
	if err == nil {
		d.logger.Info("detected installed packages", "via", "native", "count", ids.Len())
		return ids, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return winget.IDSet{}, ctxErr
	}
	d.logger.Warn("native detection unavailable, falling back to export", "error", err)

	ids, err = d.exportInstalled(ctx)
	if err != nil {
		return ids, err
	}
	d.logger.Info("detected installed packages", "via", "export", "count", ids.Len())
	return ids, nil
}

func (d *Detector) nativeInstalled(ctx context.Context) (winget.IDSet, error) {
	if d.session == nil || !d.session.EnsureInitialized(ctx) {
		return winget.IDSet{}, errNativeUnavailable
	}
	api := d.session.API()

	catalogs, err := api.Catalogs(ctx)
	if err != nil {
		return winget.IDSet{}, err
	}
	if len(catalogs) == 0 {
		return winget.IDSet{}, errors.New("no catalogs configured")
	}
	remote := preferredCatalog(catalogs)

	matches, err := api.FindInstalled(ctx, remote, native.Filter{
		Field:  native.FieldID,
		Option: native.MatchContainsCaseInsensitive,
	})
	if err != nil {
		return winget.IDSet{}, fmt.Errorf("searching installed packages via %s: %w", remote.Name, err)
	}
	ids := winget.NewIDSet()
	for _, m := range matches {
		ids.Add(m.ID)
	}
	return ids, nil
}

func preferredCatalog(catalogs []native.CatalogRef) native.CatalogRef {
	for _, c := range catalogs {
		if strings.EqualFold(c.Name, winget.CanonicalCatalog) {
			return c
		}
	}
	return catalogs[0]
}

func (d *Detector) exportInstalled(ctx context.Context) (winget.IDSet, error) {
	if d.client == nil {
		return winget.NewIDSet(), fmt.Errorf("%w: winget executable not found", ErrExportFailed)
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			if err := retry.Sleep(ctx, d.retryDelay); err != nil {
				return winget.IDSet{}, err
			}
		}
		ids, err := d.exportOnce(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return winget.IDSet{}, ctxErr
		}
		if err == nil {
			return ids, nil
		}
		lastErr = err
		d.logger.Warn("export attempt failed", "attempt", attempt, "of", d.attempts, "error", err)
	}
	return winget.NewIDSet(), fmt.Errorf("%w after %d attempts: %w", ErrExportFailed, d.attempts, lastErr)
}

func (d *Detector) exportOnce(ctx context.Context) (winget.IDSet, error) {
	dir, err := os.MkdirTemp(d.tempDir, "winpkg-export-")
	if err != nil {
		return winget.IDSet{}, fmt.Errorf("creating export directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Debug("could not remove export directory", "path", dir, "error", err)
		}
	}()
	path := filepath.Join(dir, "installed.json")

	res, err := d.client.Run(ctx, winget.CmdExport, winget.FlagOutput, path,
		winget.FlagAcceptSourceAgreements, winget.FlagDisableInteractivity)
	if err != nil {
		return winget.IDSet{}, err
	}
	if res.ExitCode == winget.CodeSourcesUnreachable {
		d.logger.Warn("package sources are unreachable, reporting no installed packages", "exit_code", res.ExitCode.String())
		return winget.NewIDSet(), nil
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil || len(bytes.TrimSpace(data)) == 0 {
		return winget.IDSet{}, fmt.Errorf("export exited with %s without writing a document", res.ExitCode)
	}
	ids, err := winget.ParseExport(data)
	if err != nil {
		return winget.IDSet{}, err
	}
	if res.ExitCode != winget.CodeSuccess {
		d.logger.Info("accepting export document despite exit code", "exit_code", res.ExitCode.String(), "count", ids.Len())
	}
	return ids, nil
}

// InstallerType returns the lower-cased installer type of id, or "" when it
// cannot be determined. The CLI answer takes precedence; the native answer is
// used only when the CLI reports none. The error is non-nil only when ctx
// ended.
func (d *Detector) InstallerType(ctx context.Context, id string) (string, error) {
	nativeType, err := withinWindow(ctx, d.window, func() (string, error) {
		return d.nativeInstallerType(ctx, id)
	})
	if err != nil {
		d.logger.Debug("native installer type lookup failed", "package", id, "error", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	cliType, err := d.showInstallerType(ctx, id)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		d.logger.Warn("winget show failed", "package", id, "error", err)
	}

	switch {
	case cliType != "":
		if nativeType != "" && nativeType != cliType {
			d.logger.Debug("installer type sources disagree", "package", id, "native", nativeType, "cli", cliType)
		}
		return cliType, nil
	case nativeType != "":
		return nativeType, nil
	default:
		return "", nil
	}
}

func (d *Detector) nativeInstallerType(ctx context.Context, id string) (string, error) {
	if d.session == nil || !d.session.EnsureInitialized(ctx) {
		return "", errNativeUnavailable
	}
	api := d.session.API()
	catalogs, err := api.Catalogs(ctx)
	if err != nil {
		return "", err
	}
	filter := native.Filter{Field: native.FieldID, Option: native.MatchEqualsCaseInsensitive, Value: id}
	for _, c := range catalogs {
		matches, err := api.Find(ctx, c, filter)
		if err != nil {
			d.logger.Debug("catalog search failed", "catalog", c.Name, "error", err)
			continue
		}
		for _, m := range matches {
			if m.InstallerType != "" {
				d.logger.Debug("native installer type", "package", id, "catalog", c.Name, "type", m.InstallerType)
				return strings.ToLower(m.InstallerType), nil
			}
			// the PowerShell adapter confirms the package but carries no
			// installer metadata
			d.logger.Debug("package found natively without installer type", "package", m.ID, "catalog", c.Name)
		}
	}
	return "", nil
}

func (d *Detector) showInstallerType(ctx context.Context, id string) (string, error) {
	if d.client == nil {
		return "", errors.New("winget executable not found")
	}
	res, err := d.client.Run(ctx, winget.CmdShow, winget.FlagID, id, winget.FlagExact,
		winget.FlagAcceptSourceAgreements, winget.FlagDisableInteractivity)
	if err != nil {
		return "", err
	}
	if res.ExitCode != winget.CodeSuccess {
		return "", fmt.Errorf("show exited with %s (%s)", res.ExitCode, winget.Classify(res.ExitCode))
	}
	return winget.ParseInstallerType(res.Stdout), nil
}

// withinWindow runs fn on one goroutine and waits at most d for it. A panic
// in fn is reported as an error.
func withinWindow[T any](ctx context.Context, d time.Duration, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("native search panicked: %v", r)}
			}
		}()
		v, err := fn()
		done <- outcome{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	var zero T
	select {
	case out := <-done:
		return out.v, out.err
	case <-timer.C:
		return zero, fmt.Errorf("native search did not finish within %s", d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
