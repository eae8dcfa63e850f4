// pkg/platform/detect.go
package platform

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Platform describes the host as far as winget orchestration cares.
type Platform struct {
	OS      string // windows, linux, darwin
	Arch    string // amd64, arm64, 386
	Version string // e.g. 10.0.19045 or 11.0.22631 on Windows

	Elevated        bool // this process runs elevated
	DesktopFound    bool // an interactive shell process was found
	DesktopElevated bool // the interactive shell runs elevated

	AppInstallerRegistered bool   // the App Installer package is registered for this user
	PowerShell             string // path of Windows PowerShell, empty if not found
}

// Detect inspects the current host. Probes that fail leave their fields at
// the zero value; only an unusable OS is an error.
func Detect() (*Platform, error) {
	p := &Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	if p.OS != "windows" {
		return p, fmt.Errorf("unsupported operating system: %s", p.OS)
	}

	p.Version = osVersion()
	p.Elevated = processElevated()
	p.DesktopElevated, p.DesktopFound = desktopElevated()
	p.AppInstallerRegistered = appInstallerRegistered()
	if path, ok := commandPath("powershell.exe"); ok {
		p.PowerShell = path
	}
	return p, nil
}

// ElevationMismatch reports the configuration in which the automation API
// cannot be activated: this process is elevated while the interactive
// desktop is not.
func (p *Platform) ElevationMismatch() bool {
	return p.Elevated && p.DesktopFound && !p.DesktopElevated
}

// String returns a string representation of the platform
func (p *Platform) String() string {
	return fmt.Sprintf("%s/%s %s (elevated: %t, desktop elevated: %t, app installer registered: %t)",
		p.OS, p.Arch, p.Version, p.Elevated, p.DesktopElevated, p.AppInstallerRegistered)
}

// osVersion maps the kernel version to a Windows version. Windows 11 still
// reports kernel 10.0 and is told apart by build number.
func osVersion() string {
	info, err := host.Info()
	if err != nil {
		return ""
	}
	return windowsVersion(info.KernelVersion)
}

func windowsVersion(kernel string) string {
	parts := strings.Split(kernel, ".")
	if len(parts) >= 3 && parts[0] == "10" && parts[1] == "0" {
		fields := strings.Fields(parts[2])
		if len(fields) == 0 {
			return kernel
		}
		build, err := strconv.Atoi(fields[0])
		if err == nil && build >= 22000 {
			return fmt.Sprintf("11.0.%d", build)
		}
	}
	return kernel
}
