package stats

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"notifyd/internal/delivery"
	logx "notifyd/pkg/logx"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Reporter logs a Collector snapshot on a cron schedule.
type Reporter struct {
	col *Collector
	log logx.Logger

	// life serializes Start and Stop. Report never takes it, so waiting for
	// a running job under life cannot deadlock.
	life sync.Mutex

	mu    sync.Mutex
	spec  string
	c     *cron.Cron
	runs  uint64
	extra func() []logx.Field
}

func NewReporter(col *Collector, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{col: col, log: log}
}

// WithFields adds fields computed at report time (e.g. in-flight count).
func (r *Reporter) WithFields(fn func() []logx.Field) *Reporter {
	r.mu.Lock()
	r.extra = fn
	r.mu.Unlock()
	return r
}

// Start schedules reports with spec. Calling Start again replaces the
// schedule.
func (r *Reporter) Start(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.New("stats: empty schedule")
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("stats: schedule %q: %w", spec, err)
	}

	r.life.Lock()
	defer r.life.Unlock()

	r.mu.Lock()
	same := r.c != nil && r.spec == spec
	r.mu.Unlock()
	if same {
		return nil
	}
	r.stopCron()

	c := cron.New(cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(r.Report))
	c.Start()
	r.mu.Lock()
	r.c, r.spec = c, spec
	r.mu.Unlock()
	r.log.Info("stats reporter started", logx.String("schedule", spec))
	return nil
}

func (r *Reporter) Stop() {
	r.life.Lock()
	defer r.life.Unlock()
	if r.stopCron() {
		r.log.Info("stats reporter stopped")
	}
}

// stopCron detaches the scheduler under mu and waits for a running report
// outside it, since Report takes mu. The caller holds life.
func (r *Reporter) stopCron() bool {
	r.mu.Lock()
	c := r.c
	r.c, r.spec = nil, ""
	r.mu.Unlock()
	if c == nil {
		return false
	}
	<-c.Stop().Done()
	return true
}

// Running reports whether a schedule is active.
func (r *Reporter) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c != nil
}

// Runs counts reports logged so far.
func (r *Reporter) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Report logs the current snapshot once.
func (r *Reporter) Report() {
	snap := r.col.Snapshot()

	r.mu.Lock()
	r.runs++
	extra := r.extra
	r.mu.Unlock()

	fields := countFields(snap.Total)
	chans := make([]string, 0, len(snap.PerChannel))
	for ch := range snap.PerChannel {
		chans = append(chans, string(ch))
	}
	sort.Strings(chans)
	for _, ch := range chans {
		c := snap.PerChannel[delivery.Channel(ch)]
		fields = append(fields,
			logx.Uint64(ch+".sent", c.Sent),
			logx.Uint64(ch+".failed", c.Failed),
		)
	}
	if extra != nil {
		fields = append(fields, extra()...)
	}
	r.log.Info("delivery stats", fields...)
}

func countFields(c Counts) []logx.Field {
	return []logx.Field{
		logx.Uint64("submitted", c.Submitted),
		logx.Uint64("sent", c.Sent),
		logx.Uint64("failed", c.Failed),
		logx.Uint64("pending", c.Pending()),
		logx.Uint64("attempts_failed", c.AttemptsFailed),
	}
}
