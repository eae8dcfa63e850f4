// pkg/winget/client.go
package winget

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arc-language/winpkg/pkg/proctree"
)

// Process is a started winget child process.
type Process interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit and returns the raw exit status. The error is
	// non-nil only when the status could not be obtained at all.
	Wait() (int, error)
	Kill() error
}

// Runner starts child processes. ExecRunner is the real implementation;
// tests substitute scripted fakes.
type Runner interface {
	Start(name string, args []string) (Process, error)
}

// ExecRunner starts processes with os/exec.
type ExecRunner struct{}

// pipeGrace bounds how long output is still copied after the process has
// exited. A grandchild that inherited stdout cannot hold the reader open
// past it.
const pipeGrace = 2 * time.Second

// Start launches name with args and streams its stdout/stderr. The command is
// not bound to a context: cancellation is handled by the caller so the whole
// process tree can be torn down, not just the direct child.
func (ExecRunner) Start(name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)
	configureCommand(cmd)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = pipeGrace
	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("start %s: %w", filepath.Base(name), err)
	}

	p := &execProcess{cmd: cmd, stdout: outR, stderr: errR, done: make(chan struct{})}
	go p.reap(outW, errW)
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *io.PipeReader
	stderr *io.PipeReader

	done chan struct{}
	code int
	err  error
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Kill() error       { return p.cmd.Process.Kill() }

// reap waits for the process and its output copies, then ends both streams.
func (p *execProcess) reap(stdout, stderr *io.PipeWriter) {
	err := p.cmd.Wait()
	_ = stdout.Close()
	_ = stderr.Close()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.code = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		p.code = p.cmd.ProcessState.ExitCode()
	default:
		p.code, p.err = -1, err
	}
	close(p.done)
}

func (p *execProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// Client runs a specific executable, normally winget.
type Client struct {
	path     string
	runner   Runner
	logger   *slog.Logger
	killTree func(ctx context.Context, pid int, opts proctree.Options) (proctree.Report, error)
}

// NewClient returns a client for the executable at path. A nil runner uses
// ExecRunner and a nil logger discards output.
func NewClient(path string, runner Runner, logger *slog.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{path: path, runner: runner, logger: logger, killTree: proctree.KillTree}
}

// Path returns the executable path.
func (c *Client) Path() string {
	return c.path
}

// Start launches winget with args for streaming consumption.
func (c *Client) Start(args ...string) (Process, error) {
	c.logger.Debug("starting process", "path", c.path, "args", strings.Join(args, " "))
	return c.runner.Start(c.path, args)
}

// Result is the captured outcome of a non-streaming winget run.
type Result struct {
	ExitCode ExitCode
	Stdout   []string
	Stderr   []string
}

// Output joins stdout lines.
func (r *Result) Output() string {
	return strings.Join(r.Stdout, "\n")
}

// Run executes winget with args and collects its output. If ctx ends first
// the process tree is torn down in the background and ctx.Err() is returned
// without waiting for the output streams.
func (c *Client) Run(ctx context.Context, args ...string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	proc, err := c.Start(args...)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.teardown(proc, started)
	})
	defer stop()

	var (
		res            Result
		outErr, errErr error
		drained        = make(chan struct{})
	)
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			res.Stdout, outErr = ReadLines(proc.Stdout())
		}()
		go func() {
			defer wg.Done()
			res.Stderr, errErr = ReadLines(proc.Stderr())
		}()
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		go func() {
			<-drained
			_, _ = proc.Wait()
		}()
		return nil, ctx.Err()
	}

	raw, waitErr := proc.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		return nil, fmt.Errorf("waiting for winget: %w", waitErr)
	}
	if err := errors.Join(outErr, errErr); err != nil {
		return nil, fmt.Errorf("reading output of %s: %w", filepath.Base(c.path), err)
	}
	res.ExitCode = NormalizeExitCode(raw)
	return &res, nil
}

func (c *Client) teardown(proc Process, since time.Time) {
	c.logger.Debug("cancelling process", "pid", proc.Pid())
	_, err := c.killTree(context.Background(), proc.Pid(), proctree.Options{
		Budget:      DefaultKillBudget,
		HelperNames: HelperProcessNames,
		Since:       since,
		Logger:      c.logger,
	})
	if err != nil {
		c.logger.Debug("process tree teardown incomplete", "error", err)
	}
	_ = proc.Kill()
}

// ScanLines is a bufio.SplitFunc that treats \n, \r\n and a lone \r as line
// ends. winget redraws progress bars with carriage returns.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// need one more byte to tell \r from \r\n
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// MaxLineSize is the longest output line a scanner accepts. The automation
// adapter prints whole result sets as one compressed JSON line.
const MaxLineSize = 16 * 1024 * 1024

// NewLineScanner wraps r in a scanner using ScanLines with room for long lines.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	sc.Split(ScanLines)
	return sc
}

// ReadLines drains r into lines. When a line cannot be read the rest of r
// is still consumed, so the writer never blocks, and the error is returned
// with the lines read so far.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := NewLineScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return lines, err
	}
	return lines, nil
}

// SystemCandidates lists the places a system-wide winget is found.
func SystemCandidates() []string {
	var out []string
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		out = append(out, filepath.Join(local, "Microsoft", "WindowsApps", ExecutableName))
	}
	if path, err := exec.LookPath("winget"); err == nil {
		out = append(out, path)
	}
	return out
}

// Locate returns the first candidate that exists as a regular file.
func Locate(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		info, err := os.Stat(c)
		if err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}
