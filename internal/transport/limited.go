package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles attempts through a token bucket. Waiting honors ctx.
type Limited struct {
	next    Transport
	limiter *rate.Limiter
}

// WithRateLimit wraps next with a limiter of perSec attempts per second
// (burst = perSec). perSec <= 0 returns next unchanged.
func WithRateLimit(next Transport, perSec int) Transport {
	if perSec <= 0 || next == nil {
		return next
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (l *Limited) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Send(ctx, msg)
}
