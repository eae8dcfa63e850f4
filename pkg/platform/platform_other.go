//go:build !windows

// pkg/platform/platform_other.go
package platform

func processElevated() bool { return false }
func desktopElevated() (elevated bool, found bool) { return false, false }
func appInstallerRegistered() bool { return false }
