/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package workload

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis-performance/mako-benchmark/kvstore"
)

// Pacer spaces transaction attempts of one worker as a Poisson process.
//
// The schedule cursor advances by an exponential draw on every call no matter
// how long the previous attempt took, so slow attempts are caught up on and
// the long-run rate converges to 1/mean.
type Pacer struct {
	mean   time.Duration
	rng    *rand.Rand
	cursor time.Time
	now    func() time.Time
}

// NewPacer returns a pacer with the given mean inter-arrival time. A mean of
// zero or less disables pacing.
func NewPacer(mean time.Duration, rng *rand.Rand) *Pacer {
	return &Pacer{mean: mean, rng: rng, cursor: time.Now(), now: time.Now}
}

// MeanInterval is the per-worker mean spacing for workers sharing a target
// rate of tps transactions per second.
func MeanInterval(workers int, tps float64) time.Duration {
	if tps <= 0 || workers <= 0 {
		return 0
	}
	return time.Duration(float64(workers) * float64(time.Second) / tps)
}

// Delay advances the cursor and returns how long to wait from now.
func (p *Pacer) Delay(now time.Time) time.Duration {
	if p.mean <= 0 {
		return 0
	}
	p.cursor = p.cursor.Add(time.Duration(p.rng.ExpFloat64() * float64(p.mean)))
	if d := p.cursor.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Wait blocks until the next scheduled arrival or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return kvstore.Sleep(ctx, p.Delay(p.now()))
}
