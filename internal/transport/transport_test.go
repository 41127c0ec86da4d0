package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/delivery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand replays Float64 values and always returns pick from Int63n.
type fixedRand struct {
	floats []float64
	pick   int64
	i      int
}

func (r *fixedRand) Float64() float64 {
	v := r.floats[r.i%len(r.floats)]
	r.i++
	return v
}

func (r *fixedRand) Int63n(n int64) int64 {
	if r.pick >= n {
		return n - 1
	}
	return r.pick
}

func TestSimulatedFailureThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		profile Profile
		draw    float64
		wantErr error
	}{
		{name: "email fails below 0.20", profile: EmailProfile(), draw: 0.19, wantErr: ErrEmailUnavailable},
		{name: "email succeeds at 0.20", profile: EmailProfile(), draw: 0.20},
		{name: "sms fails below 0.15", profile: SMSProfile(), draw: 0.10, wantErr: ErrSMSUnavailable},
		{name: "sms succeeds above 0.15", profile: SMSProfile(), draw: 0.50},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var rec clock.Recorder
			s := NewSimulated(tt.profile, &fixedRand{floats: []float64{tt.draw}}, &rec)
			err := s.Send(context.Background(), Message{ID: "x"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, rec.Calls(), "failures must not pay the network delay")
				return
			}
			require.NoError(t, err)
			require.Len(t, rec.Calls(), 1)
		})
	}
}

func TestSimulatedDelayRange(t *testing.T) {
	t.Parallel()
	email := EmailProfile()

	var low clock.Recorder
	require.NoError(t, NewSimulated(email, &fixedRand{floats: []float64{0.9}, pick: 0}, &low).Send(context.Background(), Message{}))
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, low.Calls())

	var high clock.Recorder
	require.NoError(t, NewSimulated(email, &fixedRand{floats: []float64{0.9}, pick: int64(time.Hour)}, &high).Send(context.Background(), Message{}))
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, high.Calls())

	var sms clock.Recorder
	s := NewSimulated(SMSProfile(), NewRand(42), &sms)
	for i := 0; i < 200; i++ {
		_ = s.Send(context.Background(), Message{})
	}
	for _, d := range sms.Calls() {
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestSimulatedFailureRateIsRoughlyHonored(t *testing.T) {
	t.Parallel()
	s := NewSimulated(EmailProfile(), NewRand(7), &clock.Recorder{})
	fails := 0
	const n = 5000
	for i := 0; i < n; i++ {
		if s.Send(context.Background(), Message{}) != nil {
			fails++
		}
	}
	rate := float64(fails) / n
	assert.InDelta(t, 0.20, rate, 0.03)
}

func TestSimulatedClampsProfile(t *testing.T) {
	t.Parallel()
	s := NewSimulated(Profile{FailureRate: 3, MinDelay: time.Second, MaxDelay: time.Millisecond}, nil, &clock.Recorder{})
	p := s.Profile()
	assert.Equal(t, 1.0, p.FailureRate)
	assert.Equal(t, time.Second, p.MaxDelay)
	assert.Error(t, s.Send(context.Background(), Message{}))
}

func TestDefaultProfile(t *testing.T) {
	t.Parallel()
	p, ok := DefaultProfile(delivery.ChannelSMS)
	require.True(t, ok)
	assert.Equal(t, 0.15, p.FailureRate)
	_, ok = DefaultProfile("fax")
	assert.False(t, ok)
}

func TestAlwaysAndNeverFail(t *testing.T) {
	t.Parallel()
	rng := NewRand(1)
	rec := &clock.Recorder{}

	always := NewSimulated(EmailProfile().AlwaysFail(), rng, rec)
	never := NewSimulated(SMSProfile().NeverFail(), rng, rec)
	for i := 0; i < 50; i++ {
		assert.ErrorIs(t, always.Send(context.Background(), Message{}), ErrEmailUnavailable)
		assert.NoError(t, never.Send(context.Background(), Message{}))
	}
	// only successes sleep
	assert.Len(t, rec.Calls(), 50)
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()
	calls := 0
	next := Func(func(ctx context.Context, msg Message) error {
		calls++
		return nil
	})

	_, limited := WithRateLimit(next, 0).(*Limited)
	assert.False(t, limited)

	lim := WithRateLimit(next, 1)
	require.NoError(t, lim.Send(context.Background(), Message{}))

	// Bucket is empty now; a short deadline must abort the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lim.Send(ctx, Message{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSetFor(t *testing.T) {
	t.Parallel()
	s := Set{delivery.ChannelEmail: Func(func(context.Context, Message) error { return errors.New("x") })}
	_, ok := s.For(delivery.ChannelEmail)
	assert.True(t, ok)
	_, ok = s.For(delivery.ChannelSMS)
	assert.False(t, ok)
	assert.Equal(t, "transport.Set[email]", s.String())
}

func TestMessageFor(t *testing.T) {
	t.Parallel()
	m := MessageFor("id1", delivery.SMS("+1", "hi"))
	assert.Equal(t, "id1", m.ID)
	assert.Equal(t, "+1", m.Recipient)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, delivery.ChannelSMS, m.Channel)
}
