package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/delivery"
	"notifyd/internal/eventbus"
	"notifyd/internal/storage"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"

	"github.com/google/uuid"
)

var (
	ErrUnknownChannel = delivery.ErrUnknownChannel
	ErrNoStore        = errors.New("dispatch: store is required")
)

// Engine is safe for concurrent use. Each Submit runs its attempt loop on
// the caller's goroutine; the store is the only state shared between
// submissions.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	store      storage.Store
	transports transport.Set
	sleep      clock.Sleeper
	log        logx.Logger
	bus        eventbus.Bus
	now        func() time.Time
	newID      func() string

	// ids with a running attempt loop
	ownMu sync.Mutex
	owned map[string]struct{}
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithSleeper replaces the wall clock used for backoff waits.
func WithSleeper(s clock.Sleeper) Option { return func(e *Engine) { e.sleep = s } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

func New(cfg Config, st storage.Store, transports transport.Set, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, ErrNoStore
	}
	e := &Engine{
		cfg:        cfg.withDefaults(),
		store:      st,
		transports: transports,
		sleep:      clock.Real{},
		now:        func() time.Time { return time.Now().UTC().Round(0) },
		newID:      func() string { return uuid.NewString() },
		owned:      map[string]struct{}{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.sleep == nil {
		e.sleep = clock.Real{}
	}
	return e, nil
}

// Apply swaps the retry policy. Submissions already running keep the policy
// they started with.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Submit delivers req and returns the terminal record.
//
// The returned error is non-nil only for contract violations (unknown
// channel) or store failures; a delivery that exhausted its attempts comes
// back as a failed record with a nil error. If ctx is canceled mid-flight
// the record is failed with the context error.
func (e *Engine) Submit(ctx context.Context, req delivery.Request) (delivery.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr, ok := e.transports.For(req.Channel)
	if !ok {
		return delivery.Record{}, fmt.Errorf("%w: %q", ErrUnknownChannel, req.Channel)
	}
	cfg := e.Config()

	rec := delivery.Record{
		ID:        e.newID(),
		Channel:   req.Channel,
		Recipient: req.To,
		Status:    delivery.StatusPending,
		CreatedAt: e.now(),
	}
	e.own(rec.ID)
	defer e.release(rec.ID)

	// Cancellation is reported through the record, so neither write may be
	// skipped because ctx is already done.
	if err := e.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		return delivery.Record{}, fmt.Errorf("store pending %s: %w", rec.ID, err)
	}
	log := e.log.With(logx.String("id", rec.ID), logx.String("channel", string(rec.Channel)))
	log.Info("delivery submitted", logx.String("recipient", rec.Recipient))
	e.publish(EventSubmitted, rec, 0)

	msg := transport.MessageFor(rec.ID, req)
	lastErr := e.attempt(ctx, cfg, log, tr, msg, &rec)

	if lastErr == nil {
		_ = rec.MarkSent(e.now())
		log.Info("delivery sent", logx.String("recipient", rec.Recipient), logx.Int("attempts", rec.Attempts))
		e.publish(EventSent, rec, rec.Attempts)
	} else {
		_ = rec.MarkFailed(lastErr.Error())
		log.Error("delivery failed", logx.String("recipient", rec.Recipient), logx.String("err", rec.Error), logx.Int("attempts", rec.Attempts))
		e.publish(EventFailed, rec, rec.Attempts)
	}

	if err := e.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		return rec.Clone(), fmt.Errorf("store terminal %s: %w", rec.ID, err)
	}
	return rec.Clone(), nil
}

// attempt runs the retry loop and returns the last error, nil on success.
func (e *Engine) attempt(ctx context.Context, cfg Config, log logx.Logger, tr transport.Transport, msg transport.Message, rec *delivery.Record) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		rec.Attempts = attempt
		log.Debug("delivery attempt", attemptFields(msg, attempt, cfg.MaxAttempts)...)

		err := tr.Send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("delivery attempt failed", logx.Int("attempt", attempt), logx.String("err", err.Error()))
		e.publishErr(EventAttemptFailed, *rec, attempt, err)

		if ctx.Err() != nil {
			return fmt.Errorf("delivery canceled: %w", ctx.Err())
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := Backoff(cfg, attempt)
		log.Debug("delivery retry scheduled", logx.Int("attempt", attempt), logx.Int("next_attempt", attempt+1), logx.Duration("delay", delay))
		if err := e.sleep.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("delivery canceled: %w", err)
		}
	}
	return lastErr
}

func attemptFields(msg transport.Message, attempt, max int) []logx.Field {
	fields := []logx.Field{
		logx.Int("attempt", attempt),
		logx.Int("max", max),
		logx.String("recipient", msg.Recipient),
	}
	switch msg.Channel {
	case delivery.ChannelEmail:
		fields = append(fields, logx.String("subject", msg.Subject))
	case delivery.ChannelSMS:
		fields = append(fields, logx.Int("message_len", len(msg.Text)))
	}
	return fields
}

// Status returns the stored record for id; ok is false if it was never submitted.
func (e *Engine) Status(ctx context.Context, id string) (delivery.Record, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.store.Get(ctx, id)
}

// List returns every record in submission order.
func (e *Engine) List(ctx context.Context) ([]delivery.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.store.List(ctx)
}

func (e *Engine) own(id string) {
	e.ownMu.Lock()
	defer e.ownMu.Unlock()
	if _, dup := e.owned[id]; dup {
		panic(fmt.Sprintf("dispatch: record %s already has a running attempt loop", id))
	}
	e.owned[id] = struct{}{}
}

func (e *Engine) release(id string) {
	e.ownMu.Lock()
	delete(e.owned, id)
	e.ownMu.Unlock()
}

// InFlight reports how many submissions are still running.
func (e *Engine) InFlight() int {
	e.ownMu.Lock()
	defer e.ownMu.Unlock()
	return len(e.owned)
}

func (e *Engine) publish(typ string, rec delivery.Record, attempt int) {
	e.publishErr(typ, rec, attempt, nil)
}

func (e *Engine) publishErr(typ string, rec delivery.Record, attempt int, err error) {
	if e.bus == nil {
		return
	}
	ev := DeliveryEvent{
		ID:        rec.ID,
		Channel:   rec.Channel,
		Recipient: rec.Recipient,
		Attempt:   attempt,
		Status:    rec.Status,
		Error:     rec.Error,
		At:        e.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
