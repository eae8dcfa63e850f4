// pkg/proctree/proctree.go

// Package proctree terminates a process together with everything it spawned.
package proctree

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Options tunes KillTree.
type Options struct {
	// Budget bounds the whole teardown. Zero means no bound beyond ctx.
	Budget time.Duration
	// HelperNames are image names killed even when they are not descendants,
	// provided they were created at or after Since.
	HelperNames []string
	Since       time.Time
	Logger      *slog.Logger
}

// Report is what KillTree did.
type Report struct {
	Killed  []int32
	Missing int
}

// KillTree kills the descendants of pid deepest first, then pid itself, then
// any matching helper processes. Processes that are already gone are not
// errors. The returned error joins the kill failures, if any.
func KillTree(ctx context.Context, pid int, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Budget)
		defer cancel()
	}

	var (
		report Report
		errs   []error
		seen   = make(map[int32]bool)
	)
	kill := func(p *process.Process) {
		if seen[p.Pid] {
			return
		}
		seen[p.Pid] = true
		if err := p.KillWithContext(ctx); err != nil {
			if running, _ := p.IsRunningWithContext(ctx); !running {
				report.Missing++
				return
			}
			errs = append(errs, err)
			return
		}
		report.Killed = append(report.Killed, p.Pid)
	}

	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		logger.Debug("root process already exited", "pid", pid)
		report.Missing++
	} else {
		for _, p := range descendants(ctx, root) {
			kill(p)
		}
		kill(root)
	}

	if len(opts.HelperNames) > 0 && ctx.Err() == nil {
		for _, p := range helpers(ctx, opts.HelperNames, opts.Since) {
			kill(p)
		}
	}

	if ctx.Err() != nil {
		logger.Warn("process tree teardown ran out of time", "pid", pid, "killed", len(report.Killed))
	}
	logger.Debug("process tree terminated", "pid", pid, "killed", len(report.Killed), "missing", report.Missing)
	return report, errors.Join(errs...)
}

// descendants returns every process below root in post-order, so children
// come before their parents.
func descendants(ctx context.Context, root *process.Process) []*process.Process {
	var out []*process.Process
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		if ctx.Err() != nil {
			return
		}
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			return
		}
		for _, c := range children {
			walk(c)
			out = append(out, c)
		}
	}
	walk(root)
	return out
}

func helpers(ctx context.Context, names []string, since time.Time) []*process.Process {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, p := range all {
		name, err := p.NameWithContext(ctx)
		if err != nil || !matchesAny(name, names) {
			continue
		}
		if !since.IsZero() {
			created, err := p.CreateTimeWithContext(ctx)
			if err != nil || time.UnixMilli(created).Before(since) {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func matchesAny(name string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(name, n) || strings.EqualFold(name+".exe", n) {
			return true
		}
	}
	return false
}
