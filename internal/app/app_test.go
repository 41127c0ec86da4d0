package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/delivery"
	"notifyd/internal/dispatch"
	"notifyd/internal/transport"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: error
  console: true
dispatch:
  max_attempts: 3
  base_delay: 1s
channels:
  email:
    failure_rate: 0
  sms:
    failure_rate: 1
store:
  driver: %s
stats:
  enabled: false
`

type notifyRecorder struct {
	mu     sync.Mutex
	states []string
}

func (n *notifyRecorder) notify(_ bool, state string) (bool, error) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	return false, nil
}

func (n *notifyRecorder) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func writeConfig(t *testing.T, dir, driver string) string {
	t.Helper()
	path := filepath.Join(dir, "notifyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, driver)), 0o644))
	return path
}

func TestMapDispatchConfig(t *testing.T) {
	t.Parallel()

	got, err := mapDispatchConfig(config.Default())
	require.NoError(t, err)
	assert.Equal(t, dispatch.DefaultConfig(), got)

	cfg := config.Default()
	cfg.Dispatch = config.DispatchConfig{MaxAttempts: 5, BaseDelay: "10ms", MaxDelay: "40ms"}
	got, err = mapDispatchConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Config{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}, got)

	cfg.Dispatch.BaseDelay = "later"
	_, err = mapDispatchConfig(cfg)
	assert.ErrorContains(t, err, "dispatch.base_delay")
}

func TestMapChannelProfile(t *testing.T) {
	t.Parallel()

	zero := 0.0
	cfg := config.Default()
	cfg.Channels = map[string]config.ChannelConfig{
		"SMS": {FailureRate: &zero, MinDelay: "1ms", MaxDelay: "2ms", RatePerSec: 4},
	}

	p, perSec, err := mapChannelProfile(cfg, delivery.ChannelSMS)
	require.NoError(t, err)
	assert.Zero(t, p.FailureRate)
	assert.Equal(t, time.Millisecond, p.MinDelay)
	assert.Equal(t, 2*time.Millisecond, p.MaxDelay)
	assert.ErrorIs(t, p.Err, transport.ErrSMSUnavailable)
	assert.Equal(t, 4, perSec)

	p, perSec, err = mapChannelProfile(cfg, delivery.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, transport.EmailProfile(), p)
	assert.Zero(t, perSec)

	_, _, err = mapChannelProfile(cfg, "fax")
	assert.ErrorIs(t, err, delivery.ErrUnknownChannel)
}

func TestBuildTransports(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Channels = map[string]config.ChannelConfig{"email": {RatePerSec: 2}}
	set, err := buildTransports(cfg, transport.NewRand(1), &clock.Recorder{})
	require.NoError(t, err)
	require.Len(t, set, 2)

	_, limited := set[delivery.ChannelEmail].(*transport.Limited)
	assert.True(t, limited)
	_, simulated := set[delivery.ChannelSMS].(*transport.Simulated)
	assert.True(t, simulated)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Store.Driver = ""
	assert.Equal(t, "memory", mapStorageConfig(cfg).Driver)
	cfg.Store = config.StoreConfig{Driver: " SQLite ", Path: ":memory:"}
	assert.Equal(t, "sqlite", mapStorageConfig(cfg).Driver)
}

func TestAppSubmitEndToEnd(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"memory", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			rec := &clock.Recorder{}
			sd := &notifyRecorder{}
			a, err := NewApp(writeConfig(t, t.TempDir(), driver),
				WithSleeper(rec), WithRand(transport.NewRand(7)), withNotify(sd.notify))
			require.NoError(t, err)
			require.NoError(t, a.Start(context.Background()))

			ctx := context.Background()
			sent, err := a.Engine().Submit(ctx, delivery.Email("a@example.com", "hi", "body"))
			require.NoError(t, err)
			assert.Equal(t, delivery.StatusSent, sent.Status)
			assert.Equal(t, 1, sent.Attempts)

			failed, err := a.Engine().Submit(ctx, delivery.SMS("+15550100", "hello"))
			require.NoError(t, err)
			assert.Equal(t, delivery.StatusFailed, failed.Status)
			assert.Equal(t, 3, failed.Attempts)
			assert.Contains(t, failed.Error, "SMS gateway temporarily unavailable")

			stored, ok, err := a.Engine().Status(ctx, failed.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, failed, stored)

			all, err := a.Engine().List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, sent.ID, all[0].ID)

			require.Eventually(t, func() bool {
				s := a.Stats().Total
				return s.Sent == 1 && s.Failed == 1
			}, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, uint64(3), a.Stats().Total.AttemptsFailed)

			// email paid one transport delay; sms waited 1s then 2s
			assert.Contains(t, rec.Calls(), time.Second)
			assert.Contains(t, rec.Calls(), 2*time.Second)

			assert.Len(t, a.reportFields(), 4)

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, a.Stop(stopCtx, StopEOF))
			assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, sd.got())
		})
	}
}

func TestAppDefaultsWithoutConfig(t *testing.T) {
	t.Parallel()

	a, err := NewApp("", WithSleeper(&clock.Recorder{}), withNotify((&notifyRecorder{}).notify))
	require.NoError(t, err)
	assert.Equal(t, dispatch.DefaultConfig(), a.Engine().Config())

	// Stop before Start only releases resources.
	require.NoError(t, a.Stop(context.Background(), StopUnknown))
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notifyd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dispatch":{"attempts":3}}`), 0o644))
	_, err := NewApp(path)
	assert.ErrorContains(t, err, "load config")
}

func TestAppAppliesReloadedDispatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "memory")
	a, err := NewApp(path, WithSleeper(&clock.Recorder{}), withNotify((&notifyRecorder{}).notify))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopUnknown)
	}()

	updated := []byte(strings.Replace(fmt.Sprintf(testConfig, "memory"), "max_attempts: 3", "max_attempts: 5", 1))

	// Rewrite until the watcher, which starts asynchronously, picks it up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o644)
		return a.Engine().Config().MaxAttempts == 5
	}, 5*time.Second, 200*time.Millisecond)
}

func TestApplyConfigStats(t *testing.T) {
	t.Parallel()

	a, err := NewApp("", WithSleeper(&clock.Recorder{}), withNotify((&notifyRecorder{}).notify))
	require.NoError(t, err)
	defer func() { _ = a.Stop(context.Background(), StopUnknown) }()

	next := *a.cfg
	next.Stats = config.StatsConfig{Enabled: true, Schedule: "@every 1h"}
	a.applyConfig(&next)
	assert.True(t, a.reporter.Running())

	off := next
	off.Stats.Enabled = false
	a.applyConfig(&off)
	assert.False(t, a.reporter.Running())
}
