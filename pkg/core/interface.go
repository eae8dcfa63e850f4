// pkg/core/interface.go
package core

import (
	"context"

	"github.com/arc-language/winpkg/pkg/winget"
)

// Orchestrator is the surface the coordinator and UI layers consume.
type Orchestrator interface {
	// DetectInstalled lists installed package identifiers
	DetectInstalled(ctx context.Context) (winget.IDSet, error)

	// GetInstallerType reports the installer technology of a package, or ""
	GetInstallerType(ctx context.Context, id string) (string, error)

	// Install installs a package; the error is reserved for cancellation
	Install(ctx context.Context, pkg winget.PackageIdentity, opts *winget.InstallationOptions, progress winget.ProgressCallback) (winget.OperationResult, error)

	// Uninstall removes a package; the error is reserved for cancellation
	Uninstall(ctx context.Context, pkg winget.PackageIdentity, progress winget.ProgressCallback) (winget.OperationResult, error)

	// EnsureReady prepares the native path and reports whether winget is usable
	EnsureReady(ctx context.Context) bool

	// Bootstrap installs the App Installer
	Bootstrap(ctx context.Context) bool

	// Upgrade upgrades the App Installer
	Upgrade(ctx context.Context) bool

	// OnReady subscribes to the ready notification
	OnReady(fn func()) (cancel func())
}
