package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/service/engine"
)

type fakeRunner struct {
	calls  int64
	err    error
	block  chan struct{}
	mu     sync.Mutex
	limits []int
}

func (f *fakeRunner) ProcessPendingBatches(ctx context.Context, limit int) (engine.PassStats, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return engine.PassStats{}, ctx.Err()
		}
	}
	return engine.PassStats{TenantsProcessed: 2, Deliveries: 3}, f.err
}

func newTestRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRegistry(client), mr
}

func TestPollerConfigDefaults(t *testing.T) {
	c := PollerConfig{BatchLimit: 3}.withDefaults()
	assert.Equal(t, 3, c.BatchLimit)
	assert.Equal(t, DefaultPollInterval, c.PollInterval)
	assert.Equal(t, DefaultStopTimeout, c.StopTimeout)
	assert.Contains(t, c.WorkerID, "engine-")
}

func TestRunOnce_RecordsStats(t *testing.T) {
	r := &fakeRunner{}
	p := NewPoller(r, nil, PollerConfig{WorkerID: "w1", BatchLimit: 7})

	p.RunOnce(context.Background())
	p.RunOnce(context.Background())

	s := p.Stats()
	assert.Equal(t, int64(2), s.Passes)
	assert.Equal(t, int64(0), s.Errors)
	assert.Equal(t, int64(4), s.Tenants)
	assert.Equal(t, int64(6), s.Deliveries)
	assert.False(t, s.LastPassAt.IsZero())
	assert.Equal(t, []int{7, 7}, r.limits)
}

func TestRunOnce_CountsErrors(t *testing.T) {
	r := &fakeRunner{err: errors.New("storage unavailable")}
	p := NewPoller(r, nil, PollerConfig{WorkerID: "w1"})

	p.RunOnce(context.Background())
	s := p.Stats()
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, "storage unavailable", s.LastError)
}

func TestRunOnce_SkipsWhenCancelled(t *testing.T) {
	r := &fakeRunner{}
	p := NewPoller(r, nil, PollerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.RunOnce(ctx)
	assert.Zero(t, atomic.LoadInt64(&r.calls))
}

func TestPoller_StartStop(t *testing.T) {
	r := &fakeRunner{}
	reg, mr := newTestRegistry(t)
	p := NewPoller(r, reg, PollerConfig{WorkerID: "w1", PollInterval: 10 * time.Millisecond, HeartbeatInterval: 10 * time.Millisecond})

	p.Start()
	p.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&r.calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return mr.Exists(workerKey("w1")) }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	calls := atomic.LoadInt64(&r.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt64(&r.calls), "poller kept running after Stop")
	assert.False(t, mr.Exists(workerKey("w1")))
}

func TestPoller_StopInterruptsPass(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	p := NewPoller(r, nil, PollerConfig{WorkerID: "w1", PollInterval: time.Hour, StopTimeout: time.Second})

	p.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&r.calls) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, p.Stats().Errors, "shutdown counted as a failed pass")
}

func TestRedisRegistry(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	last := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Heartbeat(ctx, Stats{WorkerID: "a", Passes: 4, Deliveries: 9, LastPassAt: last}, time.Minute))
	require.NoError(t, reg.Heartbeat(ctx, Stats{WorkerID: "b", Errors: 1, LastError: "boom"}, time.Minute))

	workers, err := reg.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	byID := map[string]Stats{}
	for _, w := range workers {
		byID[w.WorkerID] = w
	}
	assert.Equal(t, int64(4), byID["a"].Passes)
	assert.Equal(t, int64(9), byID["a"].Deliveries)
	assert.True(t, last.Equal(byID["a"].LastPassAt))
	assert.Equal(t, "boom", byID["b"].LastError)

	mr.FastForward(2 * time.Minute)
	workers, err = reg.Workers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestRedisRegistry_Deregister(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Heartbeat(ctx, Stats{WorkerID: "a"}, time.Minute))
	require.NoError(t, reg.Deregister(ctx, "a"))
	assert.False(t, mr.Exists(workerKey("a")))
}
