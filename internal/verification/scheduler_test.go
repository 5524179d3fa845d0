package verification

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	dealID   int64
	observed bool
}

type recordingVerifier struct {
	calls chan call
	panic bool
}

func newRecordingVerifier() *recordingVerifier {
	return &recordingVerifier{calls: make(chan call, 16)}
}

func (v *recordingVerifier) VerifyDeposit(_ context.Context, dealID int64, observed bool) error {
	shouldPanic := v.panic
	v.calls <- call{dealID, observed}
	if shouldPanic {
		panic("verifier blew up")
	}
	return nil
}

func always(observed bool) Probe {
	return ProbeFunc(func(context.Context, int64) (bool, error) { return observed, nil })
}

func newScheduler(t *testing.T, p Probe, v DepositVerifier) *Scheduler {
	t.Helper()
	s := NewScheduler(p, zap.NewNop())
	s.SetVerifier(v)
	t.Cleanup(s.Stop)
	return s
}

func waitCall(t *testing.T, v *recordingVerifier) call {
	t.Helper()
	select {
	case c := <-v.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("verifier was not called")
		return call{}
	}
}

func assertNoCall(t *testing.T, v *recordingVerifier, within time.Duration) {
	t.Helper()
	select {
	case c := <-v.calls:
		t.Fatalf("unexpected verifier call for deal %d", c.dealID)
	case <-time.After(within):
	}
}

func TestScheduleFiresOnce(t *testing.T) {
	v := newRecordingVerifier()
	s := newScheduler(t, always(true), v)

	s.Schedule(7, 10*time.Millisecond)
	assert.True(t, s.Pending(7))

	c := waitCall(t, v)
	assert.Equal(t, call{7, true}, c)
	assertNoCall(t, v, 50*time.Millisecond)
	assert.False(t, s.Pending(7))
}

func TestScheduleReportsMissingDeposit(t *testing.T) {
	v := newRecordingVerifier()
	s := newScheduler(t, always(false), v)

	s.Schedule(3, time.Millisecond)
	assert.Equal(t, call{3, false}, waitCall(t, v))
}

func TestProbeErrorCountsAsMissing(t *testing.T) {
	v := newRecordingVerifier()
	p := ProbeFunc(func(context.Context, int64) (bool, error) { return true, errors.New("network down") })
	s := newScheduler(t, p, v)

	s.Schedule(3, time.Millisecond)
	assert.Equal(t, call{3, false}, waitCall(t, v))
}

func TestCancelSuppressesCheck(t *testing.T) {
	v := newRecordingVerifier()
	s := newScheduler(t, always(true), v)

	s.Schedule(1, 30*time.Millisecond)
	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(1), "second cancel has nothing to cancel")
	assertNoCall(t, v, 80*time.Millisecond)
}

func TestRescheduleReplacesTimer(t *testing.T) {
	v := newRecordingVerifier()
	s := newScheduler(t, always(true), v)

	s.Schedule(1, 20*time.Millisecond)
	s.Schedule(1, 40*time.Millisecond)
	assert.Equal(t, 1, s.PendingCount())

	waitCall(t, v)
	assertNoCall(t, v, 80*time.Millisecond)
}

func TestScheduleDoesNotBlockOnSlowProbe(t *testing.T) {
	v := newRecordingVerifier()
	release := make(chan struct{})
	p := ProbeFunc(func(context.Context, int64) (bool, error) {
		<-release
		return true, nil
	})
	s := newScheduler(t, p, v)

	start := time.Now()
	for id := int64(1); id <= 5; id++ {
		s.Schedule(id, 0)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		seen[waitCall(t, v).dealID] = true
	}
	assert.Len(t, seen, 5, "checks for different deals run independently")
}

func TestPanickingVerifierIsRecovered(t *testing.T) {
	v := newRecordingVerifier()
	v.panic = true
	s := newScheduler(t, always(true), v)

	s.Schedule(1, time.Millisecond)
	waitCall(t, v)

	v.panic = false
	s.Schedule(2, time.Millisecond)
	assert.Equal(t, int64(2), waitCall(t, v).dealID)
}

func TestStopDisarmsAndRejects(t *testing.T) {
	v := newRecordingVerifier()
	s := NewScheduler(always(true), zap.NewNop())
	s.SetVerifier(v)

	s.Schedule(1, 20*time.Millisecond)
	s.Stop()
	assert.Equal(t, 0, s.PendingCount())

	s.Schedule(2, time.Millisecond)
	assert.False(t, s.Pending(2))
	assertNoCall(t, v, 60*time.Millisecond)
}

func TestStopWaitsForRunningCheck(t *testing.T) {
	entered := make(chan struct{})
	var mu sync.Mutex
	finished := false
	p := ProbeFunc(func(context.Context, int64) (bool, error) {
		close(entered)
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return true, nil
	})
	s := NewScheduler(p, zap.NewNop())
	s.SetVerifier(newRecordingVerifier())

	s.Schedule(1, 0)
	<-entered
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
}

func TestSimulatedProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("rate bounds", func(t *testing.T) {
		yes := NewSimulatedProbe(1, rand.NewSource(1))
		no := NewSimulatedProbe(-3, rand.NewSource(1))
		for i := 0; i < 100; i++ {
			ok, err := yes.Observed(ctx, 1)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, _ = no.Observed(ctx, 1)
			assert.False(t, ok)
		}
	})

	t.Run("default rate", func(t *testing.T) {
		p := NewSimulatedProbe(DefaultSuccessRate, rand.NewSource(42))
		hits := 0
		const n = 10000
		for i := 0; i < n; i++ {
			if ok, _ := p.Observed(ctx, 1); ok {
				hits++
			}
		}
		assert.InDelta(t, DefaultSuccessRate, float64(hits)/n, 0.02)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewSimulatedProbe(1, nil).Observed(cctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
