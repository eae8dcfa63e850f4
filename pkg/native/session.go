// pkg/native/session.go
package native

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is a snapshot of a Session.
type State struct {
	Initialized bool
	TimedOut    bool
	Attempts    int64
}

// Session is the process-wide handle to the automation API. Construct one
// with NewSession and share it; it is safe for concurrent use.
type Session struct {
	api    API
	logger *slog.Logger

	mu          sync.Mutex
	initialized atomic.Bool
	timedOut    atomic.Bool
	attempts    atomic.Int64
	successes   atomic.Uint64
	// generation increments after every completed handshake attempt, so
	// callers queued on mu can tell that one finished while they waited.
	// Reset leaves it alone: a queued caller must still try after a reset.
	generation atomic.Uint64
}

// NewSession wraps api. A nil logger discards output.
func NewSession(api API, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{api: api, logger: logger}
}

// API returns the wrapped capability.
func (s *Session) API() API {
	return s.api
}

// Initialized reports whether the handshake has succeeded.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// State returns a snapshot of the session flags.
func (s *Session) State() State {
	return State{
		Initialized: s.initialized.Load(),
		TimedOut:    s.timedOut.Load(),
		Attempts:    s.attempts.Load(),
	}
}

// Successes counts the handshakes that succeeded. Each value marks one
// (re)initialization, so observers can act once per initialization.
func (s *Session) Successes() uint64 {
	return s.successes.Load()
}

// EnsureInitialized performs the handshake if needed and reports whether the
// API is usable. It returns false without trying once the session has been
// marked timed out. Concurrent callers share a single attempt.
func (s *Session) EnsureInitialized(ctx context.Context) bool {
	if s.initialized.Load() {
		return true
	}
	if s.timedOut.Load() {
		return false
	}

	seen := s.generation.Load()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized.Load() {
		return true
	}
	if s.timedOut.Load() {
		return false
	}
	if s.generation.Load() != seen {
		// Another caller finished an attempt while we waited.
		return s.initialized.Load()
	}
	if s.api == nil {
		return false
	}

	s.attempts.Add(1)
	err := s.api.Handshake(ctx)
	if err != nil {
		s.logger.Warn("native API handshake failed", "error", err)
	} else {
		s.initialized.Store(true)
		s.successes.Add(1)
		s.logger.Info("native API initialized")
	}
	s.generation.Add(1)
	return err == nil
}

// EnsureInitializedWithin runs EnsureInitialized on one background goroutine
// and waits at most d for it. timedOut is true when d elapsed first; the
// attempt keeps running and its outcome is still recorded. The session is
// not marked timed out here; callers that own a timeout policy call
// MarkTimedOut.
func (s *Session) EnsureInitializedWithin(ctx context.Context, d time.Duration) (ok bool, timedOut bool) {
	if s.initialized.Load() {
		return true, false
	}
	if s.timedOut.Load() {
		return false, false
	}

	return s.within(ctx, d, func() bool {
		return s.EnsureInitialized(ctx)
	})
}

// ReinitializeWithin resets the session and probes it again, both on the same
// background goroutine, waiting at most d. Reset waits for any handshake
// still holding the lock, so it must not run on the caller's goroutine.
func (s *Session) ReinitializeWithin(ctx context.Context, d time.Duration) (ok bool, timedOut bool) {
	return s.within(ctx, d, func() bool {
		s.Reset()
		return s.EnsureInitialized(ctx)
	})
}

func (s *Session) within(ctx context.Context, d time.Duration, attempt func() bool) (bool, bool) {
	done := make(chan bool, 1)
	go func() {
		done <- attempt()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case ok := <-done:
		return ok, false
	case <-timer.C:
		return false, true
	case <-ctx.Done():
		return false, false
	}
}

// MarkTimedOut makes every later EnsureInitialized return false until Reset.
func (s *Session) MarkTimedOut() {
	s.timedOut.Store(true)
	s.logger.Warn("native API marked as timed out; using CLI only")
}

// Reset clears the session so initialization can be attempted again, for
// example right after the App Installer was installed.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized.Store(false)
	s.timedOut.Store(false)
	s.logger.Debug("native session reset")
}
