// Package nativetest provides a scriptable native.API for tests.
package nativetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arc-language/winpkg/pkg/native"
)

// Fake is an in-memory native.API. The zero value handshakes successfully
// and knows no catalogs or packages.
type Fake struct {
	mu sync.Mutex

	// HandshakeErr is returned by every Handshake while set.
	HandshakeErr error
	// HandshakeDelay makes Handshake block, ignoring ctx, like a hung
	// activation.
	HandshakeDelay time.Duration
	// SearchErr is returned by Catalogs, FindInstalled and Find while set.
	SearchErr error

	CatalogList []native.CatalogRef
	// Installed maps catalog name to installed packages it correlates.
	Installed map[string][]native.Match
	// Available maps catalog name to packages it offers.
	Available map[string][]native.Match

	handshakes    atomic.Int64
	installedHits atomic.Int64
	findHits      atomic.Int64
	lastRemote    atomic.Value
}

// SetHandshakeErr replaces HandshakeErr under the lock.
func (f *Fake) SetHandshakeErr(err error) {
	f.mu.Lock()
	f.HandshakeErr = err
	f.mu.Unlock()
}

// Handshakes is the number of Handshake calls so far.
func (f *Fake) Handshakes() int64 { return f.handshakes.Load() }

// FindInstalledCalls is the number of FindInstalled calls so far.
func (f *Fake) FindInstalledCalls() int64 { return f.installedHits.Load() }

// FindCalls is the number of Find calls so far.
func (f *Fake) FindCalls() int64 { return f.findHits.Load() }

// LastRemote is the catalog passed to the latest FindInstalled call.
func (f *Fake) LastRemote() string {
	v, _ := f.lastRemote.Load().(string)
	return v
}

func (f *Fake) Handshake(ctx context.Context) error {
	f.handshakes.Add(1)
	f.mu.Lock()
	delay, err := f.HandshakeDelay, f.HandshakeErr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *Fake) Catalogs(ctx context.Context) ([]native.CatalogRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return append([]native.CatalogRef(nil), f.CatalogList...), nil
}

func (f *Fake) FindInstalled(ctx context.Context, remote native.CatalogRef, filter native.Filter) ([]native.Match, error) {
	f.installedHits.Add(1)
	f.lastRemote.Store(remote.Name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return filterMatches(f.Installed[remote.Name], filter), nil
}

func (f *Fake) Find(ctx context.Context, catalog native.CatalogRef, filter native.Filter) ([]native.Match, error) {
	f.findHits.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return filterMatches(f.Available[catalog.Name], filter), nil
}

func filterMatches(in []native.Match, filter native.Filter) []native.Match {
	var out []native.Match
	want := strings.ToLower(filter.Value)
	for _, m := range in {
		id := strings.ToLower(m.ID)
		switch filter.Option {
		case native.MatchEqualsCaseInsensitive:
			if id != want {
				continue
			}
		default:
			if !strings.Contains(id, want) {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

var _ native.API = (*Fake)(nil)
