// Package clock provides the timed suspension used by transports and the
// dispatch engine, so tests can swap wall-clock waits for a recorder.
package clock

import (
	"context"
	"sync"
	"time"
)

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real sleeps on a timer.
type Real struct{}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Recorder returns immediately and remembers every requested duration.
// It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

// Calls returns a copy of the recorded durations in call order.
func (r *Recorder) Calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

// Total returns the sum of all recorded durations.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Calls() {
		total += d
	}
	return total
}
