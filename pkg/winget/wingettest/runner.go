// Package wingettest provides a scripted winget.Runner so tests can produce
// exit codes and output that a real child process on the test host cannot,
// such as 32-bit HRESULTs.
package wingettest

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arc-language/winpkg/pkg/winget"
)

// Step describes what one started process does.
type Step struct {
	Stdout []string
	Stderr []string
	// Exit is the raw exit status; use int(winget.ExitCode) for HRESULTs.
	Exit int
	// LineDelay is slept before each stdout line.
	LineDelay time.Duration
	// Hang keeps the process alive after its output until it is killed.
	Hang bool
	// Run is called with the arguments before any output is produced.
	Run func(args []string)
}

// Code is a convenience for Step.Exit.
func Code(c winget.ExitCode) int {
	return c.Int()
}

// Runner returns a Step for every Start. Handler is required.
type Runner struct {
	Handler  func(name string, args []string) Step
	StartErr error

	mu    sync.Mutex
	calls [][]string
	procs []*Process
}

var nextPID atomic.Int32

func init() {
	nextPID.Store(1 << 29)
}

// Start implements winget.Runner.
func (r *Runner) Start(name string, args []string) (winget.Process, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}

	step := r.Handler(name, args)
	if step.Run != nil {
		step.Run(args)
	}
	p := start(step)
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
	return p, nil
}

// Calls returns the argument lists of every Start so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo counts the starts whose first argument is subcommand.
func (r *Runner) CallsTo(subcommand string) int {
	n := 0
	for _, c := range r.Calls() {
		if len(c) > 0 && c[0] == subcommand {
			n++
		}
	}
	return n
}

// Processes returns the processes started so far.
func (r *Runner) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.procs...)
}

// Process is a fake winget.Process.
type Process struct {
	pid    int
	exit   int
	stdout *io.PipeReader
	stderr *io.PipeReader

	killOnce sync.Once
	killed   chan struct{}
	done     chan struct{}
}

func start(step Step) *Process {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	p := &Process{
		pid:    int(nextPID.Add(1)),
		exit:   step.Exit,
		stdout: outR,
		stderr: errR,
		killed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		if len(step.Stderr) > 0 {
			_, _ = io.WriteString(errW, strings.Join(step.Stderr, "\n")+"\n")
		}
		_ = errW.Close()
	}()
	go func() {
		defer close(p.done)
		defer outW.Close()
		for _, line := range step.Stdout {
			if step.LineDelay > 0 {
				select {
				case <-time.After(step.LineDelay):
				case <-p.killed:
					return
				}
			}
			if _, err := io.WriteString(outW, line+"\n"); err != nil {
				return
			}
		}
		if step.Hang {
			<-p.killed
		}
	}()
	return p
}

func (p *Process) Pid() int          { return p.pid }
func (p *Process) Stdout() io.Reader { return p.stdout }
func (p *Process) Stderr() io.Reader { return p.stderr }

// Wait returns the scripted exit status, or 1 when the process was killed.
func (p *Process) Wait() (int, error) {
	<-p.done
	if p.Killed() {
		return 1, nil
	}
	return p.exit, nil
}

// Kill terminates the process. It is safe to call repeatedly.
func (p *Process) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

// ErrStart is a ready-made start failure.
var ErrStart = errors.New("executable could not be started")
