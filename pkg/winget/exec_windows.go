//go:build windows

package winget

import (
	"os/exec"
	"syscall"
)

// createNoWindow keeps console children from flashing a window when the
// host process is a GUI.
const createNoWindow = 0x08000000

func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
