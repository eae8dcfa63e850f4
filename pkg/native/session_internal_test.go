package native

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingAPI struct {
	handshakes atomic.Int64
}

func (a *countingAPI) Handshake(context.Context) error {
	a.handshakes.Add(1)
	return nil
}

func (a *countingAPI) Catalogs(context.Context) ([]CatalogRef, error) { return nil, nil }

func (a *countingAPI) FindInstalled(context.Context, CatalogRef, Filter) ([]Match, error) {
	return nil, nil
}

func (a *countingAPI) Find(context.Context, CatalogRef, Filter) ([]Match, error) { return nil, nil }

func TestCallerQueuedBehindResetStillHandshakes(t *testing.T) {
	api := &countingAPI{}
	s := NewSession(api, nil)

	// Hold the lock so Reset and then the caller queue up behind it.
	s.mu.Lock()
	reset := make(chan struct{})
	go func() {
		s.Reset()
		close(reset)
	}()
	time.Sleep(20 * time.Millisecond)

	result := make(chan bool, 1)
	go func() {
		result <- s.EnsureInitialized(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	s.mu.Unlock()

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureInitialized did not return")
	}
	<-reset
	assert.Equal(t, int64(1), api.handshakes.Load())
}
