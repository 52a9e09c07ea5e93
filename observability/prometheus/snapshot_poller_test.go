package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wildducktheories/tasklet/core"
)

type schedulerStub struct {
	stats core.SchedulerStats
}

func (s schedulerStub) Stats() core.SchedulerStats { return s.stats }

type poolStub struct {
	stats core.PoolStats
}

func (s poolStub) Stats() core.PoolStats { return s.stats }

func TestSnapshotPoller_CollectsSchedulerAndPoolStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddScheduler("sched-a", schedulerStub{stats: core.SchedulerStats{
		Name:        "sched-a",
		Ready:       2,
		Pending:     3,
		Owned:       true,
		ActiveLoops: 1,
		SyncSteps:   10,
		AsyncSteps:  4,
		Failures:    1,
	}})
	poller.AddPool("pool-a", poolStub{stats: core.PoolStats{
		Queued:  4,
		Active:  2,
		Workers: 8,
		Running: true,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.schedulerPending.WithLabelValues("sched-a"))
		active := testutil.ToFloat64(poller.poolActive.WithLabelValues("pool-a"))
		return pending == 3 && active == 2
	})

	if got := testutil.ToFloat64(poller.schedulerOwned.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("scheduler owned gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.schedulerSteps.WithLabelValues("sched-a", "async")); got != 4 {
		t.Fatalf("async steps gauge = %v, want 4", got)
	}
	if got := testutil.ToFloat64(poller.poolRunning.WithLabelValues("pool-a")); got != 1 {
		t.Fatalf("pool running gauge = %v, want 1", got)
	}
}

// TestSnapshotPoller_RealScheduler polls a live scheduler holding one parked tasklet
func TestSnapshotPoller_RealScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	s := core.NewSchedulerWithConfig(&core.SchedulerConfig{Name: "live", Logger: core.NewNoOpLogger()})
	if _, err := s.Suspend(context.Background(), core.WaitTasklet); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	poller.AddScheduler(s.Name(), s)
	poller.CollectOnce()

	if got := testutil.ToFloat64(poller.schedulerPending.WithLabelValues("live")); got != 1 {
		t.Fatalf("pending gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.schedulerReady.WithLabelValues("live")); got != 0 {
		t.Fatalf("ready gauge = %v, want 0", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
