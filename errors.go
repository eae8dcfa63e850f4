// errors.go
package winpkg

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPackage indicates the package reference is invalid
	ErrInvalidPackage = errors.New("invalid package")

	// ErrPlatformNotSupported indicates the host cannot run winget
	ErrPlatformNotSupported = errors.New("platform not supported")

	// ErrNotReady indicates neither the CLI nor the native API is usable
	ErrNotReady = errors.New("package manager not ready")
)

// Error wraps an error with additional context
type Error struct {
	Op      string // Operation that failed
	Package string // Package name if applicable
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Package, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a cancellation outcome. Install and
// Uninstall return no other errors.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
