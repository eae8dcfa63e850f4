//go:build !windows

package winget

import "os/exec"

func configureCommand(_ *exec.Cmd) {}
