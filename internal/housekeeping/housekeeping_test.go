package housekeeping

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

type fakeCache struct {
	sweeps  atomic.Int32
	removed int
}

func (f *fakeCache) Sweep() int { f.sweeps.Add(1); return f.removed }
func (f *fakeCache) Len() int   { return 3 }

type fakeTargets struct{ loads atomic.Int32 }

func (f *fakeTargets) Load(context.Context) []int64 {
	f.loads.Add(1)
	return []int64{-1, -2}
}

func TestSweepAndStatusCallThrough(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{removed: 2}
	targets := &fakeTargets{}
	s := New(Config{}, cache, targets, logx.Nop())

	s.Sweep()
	s.Status(context.Background())

	if got := cache.sweeps.Load(); got != 1 {
		t.Fatalf("sweeps = %d, want 1", got)
	}
	if got := targets.loads.Load(); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
}

func TestStartRunsScheduledSweep(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{}
	s := New(Config{SweepEvery: time.Second}, cache, &fakeTargets{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for cache.sweeps.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep did not run within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestZeroIntervalsScheduleNothing(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeCache{}, &fakeTargets{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	s.mu.Lock()
	n := len(s.c.Entries())
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeCache{}, &fakeTargets{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop()

	s.Apply(Config{SweepEvery: time.Minute, StatusEvery: time.Hour})

	s.mu.Lock()
	n := len(s.c.Entries())
	s.mu.Unlock()
	if n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{SweepEvery: time.Minute}, &fakeCache{}, &fakeTargets{}, logx.Nop())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	s.Apply(Config{StatusEvery: time.Minute})
	if s.c != nil {
		t.Fatalf("cron restarted after Stop")
	}
}
