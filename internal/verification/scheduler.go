// Package verification runs the delayed deposit check for deals awaiting funding.
package verification

import (
	"context"
	"sync"
	"time"

	"github.com/escrowdesk/backend/internal/goroutine"
	"github.com/escrowdesk/backend/internal/metrics"
	"go.uber.org/zap"
)

// DepositVerifier receives the outcome of a check.
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, dealID int64, observed bool) error
}

// checkTimeout bounds a single probe + verify round.
const checkTimeout = 30 * time.Second

type task struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler keeps at most one pending check per deal. Schedule never blocks on the check itself.
type Scheduler struct {
	probe Probe
	log   *zap.Logger

	mu       sync.Mutex
	verifier DepositVerifier
	tasks    map[int64]*task
	gen      uint64
	stopped  bool
	running  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(probe Probe, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		probe:  probe,
		log:    log,
		tasks:  make(map[int64]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetVerifier must be called before the first check fires.
func (s *Scheduler) SetVerifier(v DepositVerifier) {
	s.mu.Lock()
	s.verifier = v
	s.mu.Unlock()
}

// Schedule arms a check for dealID after delay, replacing any check already armed for it.
func (s *Scheduler) Schedule(dealID int64, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.log.Warn("scheduler stopped, check not armed", zap.Int64("deal_id", dealID))
		return
	}
	if prev, ok := s.tasks[dealID]; ok {
		prev.timer.Stop()
	} else {
		metrics.PendingVerifications.Inc()
	}

	s.gen++
	gen := s.gen
	s.tasks[dealID] = &task{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(dealID, gen) }),
	}
	s.log.Info("deposit check scheduled", zap.Int64("deal_id", dealID), zap.Duration("delay", delay))
}

// Cancel disarms the pending check for dealID. It reports whether one was pending.
func (s *Scheduler) Cancel(dealID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[dealID]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, dealID)
	metrics.PendingVerifications.Dec()
	s.log.Info("deposit check canceled", zap.Int64("deal_id", dealID))
	return true
}

func (s *Scheduler) Pending(dealID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[dealID]
	return ok
}

func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop disarms every pending check and waits for checks already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
		metrics.PendingVerifications.Dec()
	}
	s.mu.Unlock()

	s.running.Wait()
	s.cancel()
}

func (s *Scheduler) fire(dealID int64, gen uint64) {
	s.mu.Lock()
	t, ok := s.tasks[dealID]
	// superseded by a reschedule, or canceled after the timer already fired
	if !ok || t.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, dealID)
	metrics.PendingVerifications.Dec()
	verifier := s.verifier
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	defer goroutine.Recover(s.log, "deposit-check")

	s.run(dealID, verifier)
}

func (s *Scheduler) run(dealID int64, verifier DepositVerifier) {
	ctx, cancel := context.WithTimeout(s.ctx, checkTimeout)
	defer cancel()

	log := s.log.With(zap.Int64("deal_id", dealID))
	if verifier == nil {
		log.Error("deposit check fired without a verifier")
		return
	}

	observed, err := s.probe.Observed(ctx, dealID)
	if err != nil {
		// an unreachable probe counts as "not observed"; the deal stays pending
		log.Warn("deposit probe failed", zap.Error(err))
		observed = false
	}

	if err := verifier.VerifyDeposit(ctx, dealID, observed); err != nil {
		metrics.DepositChecks.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error("deposit verification failed", zap.Error(err))
		return
	}
	log.Info("deposit check completed", zap.Bool("observed", observed))
}
