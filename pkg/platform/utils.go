// pkg/platform/utils.go
package platform

import (
	"errors"
	"os/exec"
	"path/filepath"

	"github.com/arc-language/winpkg/pkg/winget"
)

// ErrNoExecutable means no winget executable exists on this host.
var ErrNoExecutable = errors.New("no winget executable found")

// commandPath looks a command up in PATH
func commandPath(cmd string) (string, bool) {
	path, err := exec.LookPath(cmd)
	return path, err == nil
}

// SystemExecutable finds the winget installed with the App Installer.
func SystemExecutable() (string, bool) {
	return winget.Locate(winget.SystemCandidates()...)
}

// BundledExecutable finds winget in a bundled directory.
func BundledExecutable(dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	return winget.Locate(filepath.Join(dir, winget.ExecutableName))
}
