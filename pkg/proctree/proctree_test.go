package proctree

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/winpkg/internal/testutil"
)

func TestKillTree(t *testing.T) {
	testutil.RequirePOSIXShell(t)
	if _, err := exec.LookPath("pgrep"); err != nil && runtime.GOOS == "linux" {
		t.Skip("process enumeration needs pgrep")
	}
	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "tree", `sleep 30 &
sleep 30 &
wait`)

	cmd := exec.Command(script)
	require.NoError(t, cmd.Start())
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()

	root, err := process.NewProcess(int32(cmd.Process.Pid))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		children, _ := root.Children()
		return len(children) == 2
	}, 5*time.Second, 20*time.Millisecond)
	children, err := root.Children()
	require.NoError(t, err)

	report, err := KillTree(context.Background(), cmd.Process.Pid, Options{Budget: 3 * time.Second})
	require.NoError(t, err)
	// the shell may exit on its own once its children die
	assert.Equal(t, 3, len(report.Killed)+report.Missing)
	require.GreaterOrEqual(t, len(report.Killed), 2)
	assert.ElementsMatch(t, []int32{children[0].Pid, children[1].Pid}, report.Killed[:2])

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("root process survived")
	}
	for _, c := range children {
		assert.Eventually(t, func() bool {
			running, _ := c.IsRunning()
			if !running {
				return true
			}
			status, _ := c.Status()
			return len(status) > 0 && status[0] == process.Zombie
		}, 5*time.Second, 20*time.Millisecond)
	}
}

func TestKillTreeMissingProcess(t *testing.T) {
	report, err := KillTree(context.Background(), 1<<30, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Killed)
	assert.Equal(t, 1, report.Missing)
}

func TestMatchesAny(t *testing.T) {
	names := []string{"winget.exe", "WindowsPackageManagerServer.exe"}
	assert.True(t, matchesAny("WINGET.EXE", names))
	assert.True(t, matchesAny("winget", names))
	assert.True(t, matchesAny("windowspackagemanagerserver.exe", names))
	assert.False(t, matchesAny("explorer.exe", names))
}
