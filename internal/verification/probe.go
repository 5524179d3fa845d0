package verification

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Probe answers whether the expected deposit for a deal has been observed.
type Probe interface {
	Observed(ctx context.Context, dealID int64) (bool, error)
}

type ProbeFunc func(ctx context.Context, dealID int64) (bool, error)

func (f ProbeFunc) Observed(ctx context.Context, dealID int64) (bool, error) {
	return f(ctx, dealID)
}

// DefaultSuccessRate is the share of simulated checks that observe the deposit.
const DefaultSuccessRate = 0.9

// SimulatedProbe stands in for a settlement network. No real chain is queried.
type SimulatedProbe struct {
	rate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedProbe clamps rate into [0, 1]. A nil src seeds from the clock.
func NewSimulatedProbe(rate float64, src rand.Source) *SimulatedProbe {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &SimulatedProbe{rate: rate, rnd: rand.New(src)}
}

func (p *SimulatedProbe) Observed(ctx context.Context, _ int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64() < p.rate, nil
}
