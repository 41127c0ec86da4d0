package transport

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/delivery"
)

var (
	ErrEmailUnavailable = errors.New("email service temporarily unavailable")
	ErrSMSUnavailable   = errors.New("SMS gateway temporarily unavailable")
)

// Rand is the random source consumed by Simulated.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

// NewRand returns a mutex-guarded *rand.Rand; *rand.Rand alone is not safe
// for concurrent submissions.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// Profile describes a simulated channel.
type Profile struct {
	FailureRate float64 // probability in [0,1] that one attempt fails
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Err         error
}

// EmailProfile and SMSProfile are the default channel behaviors.
func EmailProfile() Profile {
	return Profile{FailureRate: 0.20, MinDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Err: ErrEmailUnavailable}
}

func SMSProfile() Profile {
	return Profile{FailureRate: 0.15, MinDelay: 50 * time.Millisecond, MaxDelay: 150 * time.Millisecond, Err: ErrSMSUnavailable}
}

// AlwaysFail returns p with every attempt failing.
func (p Profile) AlwaysFail() Profile { p.FailureRate = 1; return p }

// NeverFail returns p with every attempt succeeding.
func (p Profile) NeverFail() Profile { p.FailureRate = 0; return p }

// DefaultProfile returns the built-in profile for ch.
func DefaultProfile(ch delivery.Channel) (Profile, bool) {
	switch ch {
	case delivery.ChannelEmail:
		return EmailProfile(), true
	case delivery.ChannelSMS:
		return SMSProfile(), true
	default:
		return Profile{}, false
	}
}

// Simulated fails with Profile.FailureRate per attempt; otherwise it
// succeeds after a delay drawn uniformly from [MinDelay, MaxDelay].
type Simulated struct {
	profile Profile
	rng     Rand
	sleep   clock.Sleeper
}

// NewSimulated builds a simulated transport. Nil rng/sleep fall back to a
// time-seeded source and the real clock.
func NewSimulated(p Profile, rng Rand, sleep clock.Sleeper) *Simulated {
	if rng == nil {
		rng = NewRand(time.Now().UnixNano())
	}
	if sleep == nil {
		sleep = clock.Real{}
	}
	if p.FailureRate < 0 {
		p.FailureRate = 0
	}
	if p.FailureRate > 1 {
		p.FailureRate = 1
	}
	if p.MinDelay < 0 {
		p.MinDelay = 0
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.Err == nil {
		p.Err = errors.New("service temporarily unavailable")
	}
	return &Simulated{profile: p, rng: rng, sleep: sleep}
}

func (s *Simulated) Profile() Profile { return s.profile }

func (s *Simulated) Send(ctx context.Context, msg Message) error {
	_ = msg
	// Failure is drawn first and fails fast; only successes pay the delay.
	if s.rng.Float64() < s.profile.FailureRate {
		return s.profile.Err
	}
	return s.sleep.Sleep(ctx, s.delay())
}

func (s *Simulated) delay() time.Duration {
	span := int64(s.profile.MaxDelay - s.profile.MinDelay)
	if span <= 0 {
		return s.profile.MinDelay
	}
	return s.profile.MinDelay + time.Duration(s.rng.Int63n(span+1))
}
