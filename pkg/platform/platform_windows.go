//go:build windows

// pkg/platform/platform_windows.go
package platform

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/arc-language/winpkg/pkg/winget"
)

const appModelPackages = `Software\Classes\Local Settings\Software\Microsoft\Windows\CurrentVersion\AppModel\Repository\Packages`

func processElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// desktopElevated checks the token of the user's explorer.exe.
func desktopElevated() (elevated bool, found bool) {
	procs, err := process.Processes()
	if err != nil {
		return false, false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.EqualFold(name, "explorer.exe") {
			continue
		}
		elevated, ok := tokenElevated(uint32(p.Pid))
		if ok {
			return elevated, true
		}
	}
	return false, false
}

func tokenElevated(pid uint32) (bool, bool) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return false, false
	}
	defer windows.CloseHandle(h)

	var token windows.Token
	if err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token); err != nil {
		return false, false
	}
	defer token.Close()
	return token.IsElevated(), true
}

// appInstallerRegistered looks for the App Installer package in the current
// user's AppModel repository.
func appInstallerRegistered() bool {
	k, err := registry.OpenKey(registry.CURRENT_USER, appModelPackages, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return false
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return false
	}
	prefix, publisher, _ := strings.Cut(winget.AppInstallerFamilyName, "_")
	for _, n := range names {
		if strings.HasPrefix(n, prefix+"_") && strings.HasSuffix(n, "__"+publisher) {
			return true
		}
	}
	return false
}
