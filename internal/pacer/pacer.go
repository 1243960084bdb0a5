// Package pacer spaces out link-resolution requests so the aggregate access
// pattern looks like a person browsing, not a fixed-interval crawler.
package pacer

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer is a single shared gate enforcing a randomized minimum spacing
// between releases. All resolver calls across all workers go through one
// Pacer instance, so the aggregate resolution rate stays bounded regardless
// of worker count. Callers queue on the internal mutex and are released one
// at a time.
type Pacer struct {
	mu  sync.Mutex
	min time.Duration
	max time.Duration

	last time.Time // last release instant, guarded by mu
	rng  *rand.Rand
}

// New creates a Pacer drawing delays uniformly from [min, max]. Both zero
// disables pacing.
func New(min, max time.Duration) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Pacer{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until at least a freshly drawn delay has elapsed since the
// previous caller was released. The first caller passes immediately. The
// gate is held while waiting, so releases are serialized and each
// inter-release gap lands inside [min, max].
// Parameters:
//   - ctx: context for cancellation; a cancelled wait does not count as a
//     release.
// Returns:
//   - error: ctx.Err() if the context is cancelled while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		gap := time.Until(p.last.Add(p.interval()))
		if gap > 0 {
			timer := time.NewTimer(gap)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.last = time.Now()
	return nil
}

// interval draws the next delay uniformly from [min, max]. Caller holds mu.
func (p *Pacer) interval() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + time.Duration(p.rng.Int63n(int64(p.max-p.min)+1))
}
