package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-language/winpkg/pkg/proctree"
	"github.com/arc-language/winpkg/pkg/winget"
	"github.com/arc-language/winpkg/pkg/winget/wingettest"
)

var fooApp = winget.PackageIdentity{ID: "Foo.App", DisplayName: "Foo"}

type recorder struct {
	mu     sync.Mutex
	events []winget.Progress
	first  chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{})}
}

func (r *recorder) sink(p winget.Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
}

func (r *recorder) snapshot() []winget.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]winget.Progress(nil), r.events...)
}

func (r *recorder) statuses() []string {
	var out []string
	for _, p := range r.snapshot() {
		if p.Status != "" {
			out = append(out, p.Status)
		}
	}
	return out
}

type killRecorder struct {
	mu   sync.Mutex
	pids []int
}

func (k *killRecorder) kill(_ context.Context, pid int, _ proctree.Options) (proctree.Report, error) {
	k.mu.Lock()
	k.pids = append(k.pids, pid)
	k.mu.Unlock()
	return proctree.Report{Killed: []int32{int32(pid)}}, nil
}

func (k *killRecorder) calls() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.pids...)
}

func newTestEngine(runner *wingettest.Runner, kills *killRecorder) *Engine {
	cfg := Config{
		Client:         winget.NewClient("winget.exe", runner, nil),
		CLIPresent:     func() bool { return true },
		VerifyInterval: 5 * time.Millisecond,
		VerifyTimeout:  50 * time.Millisecond,
	}
	if kills != nil {
		cfg.KillTree = kills.kill
	}
	return New(cfg)
}

// steppingClock makes every reading one second later than the previous one,
// so no progress update is throttled.
func steppingClock(e *Engine) {
	var mu sync.Mutex
	clock := time.Unix(0, 0)
	e.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
}

func handler(steps map[string]wingettest.Step) func(string, []string) wingettest.Step {
	return func(_ string, args []string) wingettest.Step {
		return steps[args[0]]
	}
}

func TestInstallSuccessCodes(t *testing.T) {
	for _, code := range winget.SuccessCodes() {
		t.Run(code.String(), func(t *testing.T) {
			runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
				winget.CmdInstall: {Exit: wingettest.Code(code)},
			})}
			res, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, nil)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, winget.FailureNone, res.FailureReason)
		})
	}
}

func TestInstallExitZero(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Stdout: []string{"Found Foo [Foo.App] Version 1.0", "Successfully installed"}},
	})}
	res, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, winget.Succeeded("Foo installed"), res)
}

func TestInstallPackageNotFound(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {
			Stdout: []string{"No package found matching input criteria."},
			Exit:   wingettest.Code(winget.CodeNoApplicationsFound),
		},
	})}
	res, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, winget.FailurePackageNotFound, res.FailureReason)
	assert.Contains(t, res.Message, "No package found matching input criteria.")
}

func TestInstallUnmappedCode(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Exit: 1603},
	})}
	res, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, winget.FailureOther, res.FailureReason)
}

func TestInstallArguments(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(nil)}
	pkg := winget.PackageIdentity{ID: "Foo.App", Source: "winget"}
	_, err := newTestEngine(runner, nil).Install(context.Background(), pkg, &winget.InstallationOptions{Version: "1.2.3"}, nil)
	require.NoError(t, err)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"install", "--id", "Foo.App", "--version", "1.2.3", "--source", "winget",
		"--silent", "--accept-package-agreements", "--accept-source-agreements",
		"--disable-interactivity", "--force",
	}, calls[0])
}

func TestUninstallArguments(t *testing.T) {
	assert.Equal(t, []string{
		"uninstall", "--id", "Foo.App", "--silent", "--accept-source-agreements",
		"--disable-interactivity", "--force",
	}, UninstallArgs(fooApp))
	assert.Equal(t, []string{
		"list", "--id", "Foo.App", "--exact", "--accept-source-agreements", "--disable-interactivity",
	}, ListArgs(fooApp))
}

func TestInstallUnavailable(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(nil)}
	e := New(Config{
		Client:     winget.NewClient("winget.exe", runner, nil),
		CLIPresent: func() bool { return false },
	})
	assert.False(t, e.IsAvailable(context.Background()))

	res, err := e.Install(context.Background(), fooApp, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, winget.Failed(winget.FailureOther, "package manager is not available"), res)
	assert.Empty(t, runner.Calls())
}

func TestInstallStartFailure(t *testing.T) {
	runner := &wingettest.Runner{StartErr: wingettest.ErrStart}
	res, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, winget.FailureOther, res.FailureReason)
}

var installOutput = []string{
	"Found Foo [Foo.App] Version 1.0",
	"This application is licensed to you by its owner.",
	"Downloading https://example.com/foo.exe",
	"  ██████████████                  10.0 MB / 20.0 MB",
	"Successfully verified installer hash",
	"Starting package install...",
	"Successfully installed",
}

func TestInstallProgressWeights(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Stdout: installOutput},
	})}
	e := newTestEngine(runner, nil)
	steppingClock(e)
	rec := newRecorder()

	res, err := e.Install(context.Background(), fooApp, nil, rec.sink)
	require.NoError(t, err)
	require.True(t, res.Success)

	var percents []float64
	for _, p := range rec.snapshot() {
		if p.Status != "" {
			percents = append(percents, p.Percent)
		}
	}
	assert.Equal(t, []float64{30, 30, 50, 70, 70, 100}, percents)
	assert.Equal(t, []string{
		"Found Foo", "Downloading Foo", "Downloading Foo", "Downloading Foo", "Installing Foo", "Complete",
	}, rec.statuses())

	events := rec.snapshot()
	assert.Len(t, events, len(installOutput))
	assert.Equal(t, "This application is licensed to you by its owner.", events[1].TerminalLine)
	assert.Empty(t, events[1].Status)
	assert.True(t, events[3].IsProgressIndicator)
}

func TestInstallProgressThrottled(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Stdout: installOutput},
	})}
	e := newTestEngine(runner, nil)
	e.throttle = time.Hour
	rec := newRecorder()

	_, err := e.Install(context.Background(), fooApp, nil, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"Found Foo", "Complete"}, rec.statuses())
	events := rec.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, 100.0, last.Percent)
	for _, p := range events {
		assert.NotContains(t, p.TerminalLine, "MB / 20.0 MB", "throttled bar redraws are dropped")
	}
}

func TestInstallCompleteFlushedWithoutMarker(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(nil)}
	rec := newRecorder()
	_, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, rec.sink)
	require.NoError(t, err)
	assert.Equal(t, []winget.Progress{{Percent: 100, Status: "Complete"}}, rec.snapshot())
}

func TestInstallStderrForwarded(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Stderr: []string{"warning: something odd"}},
	})}
	rec := newRecorder()
	_, err := newTestEngine(runner, nil).Install(context.Background(), fooApp, nil, rec.sink)
	require.NoError(t, err)

	var lines []string
	for _, p := range rec.snapshot() {
		lines = append(lines, p.TerminalLine)
	}
	assert.Contains(t, lines, "warning: something odd")
}

func TestUninstallVerifiableCodeThenAbsent(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdUninstall: {
			Stdout: []string{"Found Foo [Foo.App]", "Starting package uninstall..."},
			Exit:   wingettest.Code(winget.CodeExecUninstallCommandFailed),
		},
		winget.CmdList: {
			Stdout: []string{"No installed package found matching input criteria."},
			Exit:   wingettest.Code(winget.CodeNoApplicationsFound),
		},
	})}
	e := newTestEngine(runner, nil)
	steppingClock(e)
	rec := newRecorder()
	res, err := e.Uninstall(context.Background(), fooApp, rec.sink)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, runner.CallsTo(winget.CmdList))
	assert.Equal(t, []string{"Found Foo", "Uninstalling Foo", "Complete"}, rec.statuses())
}

func TestUninstallAbsentAfterSeveralPolls(t *testing.T) {
	polls := 0
	runner := &wingettest.Runner{Handler: func(_ string, args []string) wingettest.Step {
		if args[0] == winget.CmdUninstall {
			return wingettest.Step{}
		}
		polls++
		if polls < 3 {
			return wingettest.Step{Stdout: []string{"Name Id Version", "Foo Foo.App 1.0"}}
		}
		return wingettest.Step{Exit: wingettest.Code(winget.CodeNoApplicationsFound)}
	}}
	e := newTestEngine(runner, nil)
	e.verifyTimeout = 5 * time.Second

	res, err := e.Uninstall(context.Background(), fooApp, nil)
	require.NoError(t, err)
	assert.Equal(t, winget.Succeeded("Foo uninstalled"), res)
	assert.Equal(t, 3, runner.CallsTo(winget.CmdList))
}

func TestUninstallStillPresentReportsSuccess(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdList: {Stdout: []string{"Name Id Version", "Foo Foo.App 1.0"}},
	})}
	res, err := newTestEngine(runner, nil).Uninstall(context.Background(), fooApp, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "still listed")
	assert.GreaterOrEqual(t, runner.CallsTo(winget.CmdList), 2)
}

func TestUninstallDefiniteFailureSkipsVerification(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdUninstall: {Exit: wingettest.Code(winget.CodeInstallBlockedByPolicy)},
	})}
	res, err := newTestEngine(runner, nil).Uninstall(context.Background(), fooApp, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, winget.FailureBlockedByPolicy, res.FailureReason)
	assert.Zero(t, runner.CallsTo(winget.CmdList))
}

func TestInstallCancelled(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdInstall: {Stdout: []string{"Found Foo [Foo.App]"}, Hang: true},
	})}
	kills := &killRecorder{}
	e := newTestEngine(runner, kills)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-rec.first
		cancel()
	}()

	res, err := e.Install(ctx, fooApp, nil, rec.sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)

	procs := runner.Processes()
	require.Len(t, procs, 1)
	assert.True(t, procs[0].Killed())
	assert.Equal(t, []int{procs[0].Pid()}, kills.calls())
}

func TestUninstallCancelledDuringVerification(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(map[string]wingettest.Step{
		winget.CmdList: {Stdout: []string{"Foo Foo.App 1.0"}},
	})}
	e := newTestEngine(runner, &killRecorder{})
	e.verifyTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Uninstall(ctx, fooApp, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInstallAlreadyCancelled(t *testing.T) {
	runner := &wingettest.Runner{Handler: handler(nil)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(runner, nil).Install(ctx, fooApp, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.Calls())
}

func TestInstallCancelKillsProcessTree(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil || filepath.Separator != '/' {
		t.Skip("needs /bin/sh")
	}
	if _, err := os.Stat("/proc/self"); err != nil {
		t.Skip("needs /proc")
	}
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("process enumeration needs pgrep")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	script := filepath.Join(dir, "winget")
	body := "#!/bin/sh\nsleep 30 >/dev/null 2>&1 &\necho $! > " + pidFile + "\necho 'Found Foo [Foo.App]'\nwait\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	// no helper sweep: other test binaries may run stubs named winget
	e := New(Config{
		Client:      winget.NewClient(script, nil, nil),
		CLIPresent:  func() bool { return true },
		KillBudget:  3 * time.Second,
		HelperNames: []string{},
	})
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-rec.first
		cancel()
	}()

	start := time.Now()
	_, err := e.Install(ctx, fooApp, nil, rec.sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return !processAlive(pid)
	}, 5*time.Second, 50*time.Millisecond, "child %d survived cancellation", pid)
}

// processAlive reads /proc so that zombies awaiting reaping count as dead.
func processAlive(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	return len(fields) > 2 && fields[2] != "Z"
}
