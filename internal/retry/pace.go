package retry

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer bounds how often a retried external call may be attempted overall,
// independent of the per-call backoff in Do. It exists for callers that
// fan many logical operations through the same downstream collaborator
// and need a shared ceiling on top of Do's per-call backoff, adapted from
// the teacher's WS_MAX_BROADCAST_RATE limiter (config.go) into a reusable
// primitive. No package in this repository calls it.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer builds a Pacer allowing up to ratePerSec calls/sec with a burst
// of burst.
func NewPacer(ratePerSec float64, burst int) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until the pacer admits the next call or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Allow reports, without blocking, whether a call may proceed right now.
func (p *Pacer) Allow() bool {
	return p.limiter.Allow()
}
