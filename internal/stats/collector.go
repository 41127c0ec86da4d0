package stats

import (
	"context"
	"sync"

	"notifyd/internal/delivery"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
)

// Counts is one set of delivery counters.
type Counts struct {
	Submitted      uint64 `json:"submitted"`
	Sent           uint64 `json:"sent"`
	Failed         uint64 `json:"failed"`
	AttemptsFailed uint64 `json:"attempts_failed"`
}

// Pending is the number of submissions without a terminal outcome yet.
func (c Counts) Pending() uint64 {
	done := c.Sent + c.Failed
	if done >= c.Submitted {
		return 0
	}
	return c.Submitted - done
}

type Snapshot struct {
	Total      Counts                      `json:"total"`
	PerChannel map[delivery.Channel]Counts `json:"per_channel"`
}

// Collector aggregates dispatch lifecycle events.
type Collector struct {
	mu    sync.Mutex
	total Counts
	per   map[delivery.Channel]*Counts
}

func NewCollector() *Collector {
	return &Collector{per: map[delivery.Channel]*Counts{}}
}

// Types are the event types a Collector consumes.
func Types() []string {
	return []string{
		dispatch.EventSubmitted,
		dispatch.EventAttemptFailed,
		dispatch.EventSent,
		dispatch.EventFailed,
	}
}

// Observe folds one event into the counters. Unrelated events are ignored.
func (c *Collector) Observe(ev eventbus.Event) {
	de, ok := ev.Data.(dispatch.DeliveryEvent)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.per[de.Channel]
	if ch == nil {
		ch = &Counts{}
		c.per[de.Channel] = ch
	}
	for _, cnt := range []*Counts{&c.total, ch} {
		switch ev.Type {
		case dispatch.EventSubmitted:
			cnt.Submitted++
		case dispatch.EventAttemptFailed:
			cnt.AttemptsFailed++
		case dispatch.EventSent:
			cnt.Sent++
		case dispatch.EventFailed:
			cnt.Failed++
		}
	}
}

// Run consumes bus events until ctx is done or the subscription closes.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(256, Types()...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Snapshot{Total: c.total, PerChannel: make(map[delivery.Channel]Counts, len(c.per))}
	for k, v := range c.per {
		out.PerChannel[k] = *v
	}
	return out
}
