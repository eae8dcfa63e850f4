// pkg/engine/operation.go
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arc-language/winpkg/pkg/winget"
)

type kind int

const (
	kindInstall kind = iota
	kindUninstall
)

func (k kind) String() string {
	if k == kindUninstall {
		return "uninstall"
	}
	return "install"
}

// operation tracks one Install or Uninstall call: its state, the composite
// percent, and progress throttling. Both reader goroutines feed it.
type operation struct {
	id       string
	kind     kind
	pkg      winget.PackageIdentity
	logger   *slog.Logger
	sink     winget.ProgressCallback
	throttle time.Duration
	now      func() time.Time

	mu        sync.Mutex
	state     State
	phase     winget.Phase
	percent   float64
	lastEmit  time.Time
	emitted   bool
	completed bool
	errorLine string
}

func (o *operation) transition(to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(to)
}

func (o *operation) transitionLocked(to State) bool {
	if !CanTransition(o.state, to) {
		return false
	}
	o.logger.Debug("state change", "from", o.state.String(), "to", to.String())
	o.state = to
	return true
}

// composite maps a phase reading to the overall 0-100 scale.
func (o *operation) composite(ev winget.ProgressEvent) (float64, bool) {
	p := 0.0
	if ev.HasPercent {
		p = ev.Percent
	}
	switch ev.Phase {
	case winget.PhaseFound:
		return 30, true
	case winget.PhaseComplete:
		return 100, true
	}
	if o.kind == kindUninstall {
		if ev.Phase == winget.PhaseUninstalling {
			return 60, true
		}
		return 0, false
	}
	switch ev.Phase {
	case winget.PhaseDownloading:
		return 30 + 40*p, true
	case winget.PhaseInstalling:
		return 70 + 25*p, true
	}
	return 0, false
}

func (o *operation) status(phase winget.Phase) string {
	switch phase {
	case winget.PhaseFound:
		return "Found " + o.pkg.Label()
	case winget.PhaseComplete:
		return "Complete"
	case winget.PhaseError:
		return "Error"
	default:
		return fmt.Sprintf("%s %s", phase, o.pkg.Label())
	}
}

func stateFor(phase winget.Phase) (State, bool) {
	switch phase {
	case winget.PhaseFound:
		return StateFound, true
	case winget.PhaseDownloading:
		return StateDownloading, true
	case winget.PhaseInstalling:
		return StateInstalling, true
	case winget.PhaseUninstalling:
		return StateUninstalling, true
	}
	return 0, false
}

func (o *operation) handleStdout(line string) {
	noise := winget.IsLogNoise(line)
	text := strings.TrimSpace(line)

	o.mu.Lock()
	ev, ok := winget.ParseLine(line, o.phase)
	if !ok {
		pct := o.percent
		o.mu.Unlock()
		o.emit(winget.Progress{Percent: pct, TerminalLine: line, IsProgressIndicator: noise})
		return
	}

	if s, ok := stateFor(ev.Phase); ok {
		o.phase = ev.Phase
		o.transitionLocked(s)
	}
	if ev.Phase == winget.PhaseError {
		o.errorLine = text
	}
	if pct, ok := o.composite(ev); ok && pct > o.percent {
		o.percent = pct
	}

	now := o.now()
	flush := ev.Phase == winget.PhaseComplete
	emit := flush || !o.emitted || now.Sub(o.lastEmit) >= o.throttle
	if emit {
		o.lastEmit = now
		o.emitted = true
	}
	if flush {
		o.completed = true
	}
	p := winget.Progress{Percent: o.percent, TerminalLine: line, IsProgressIndicator: noise}
	if emit {
		p.Status = o.status(ev.Phase)
	}
	o.mu.Unlock()

	if !noise {
		o.logger.Info("winget output", "phase", ev.Phase.String(), "line", text)
	}
	// Throttled bar redraws are dropped; other throttled lines still reach
	// the terminal channel without a status update.
	if emit || !noise {
		o.emit(p)
	}
}

func (o *operation) handleStderr(line string) {
	noise := winget.IsLogNoise(line)
	if !noise {
		o.logger.Debug("winget stderr", "line", strings.TrimSpace(line))
	}
	o.mu.Lock()
	pct := o.percent
	o.mu.Unlock()
	o.emit(winget.Progress{Percent: pct, TerminalLine: line, IsProgressIndicator: noise})
}

// flushComplete reports 100% unless the output already did.
func (o *operation) flushComplete() {
	o.mu.Lock()
	if o.completed {
		o.mu.Unlock()
		return
	}
	o.completed = true
	o.percent = 100
	o.mu.Unlock()
	o.emit(winget.Progress{Percent: 100, Status: "Complete"})
}

func (o *operation) lastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errorLine
}

func (o *operation) emit(p winget.Progress) {
	if o.sink != nil {
		o.sink(p)
	}
}
