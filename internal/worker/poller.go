package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/service/engine"
)

const (
	// DefaultPollInterval is how often a pass is started.
	DefaultPollInterval = 5 * time.Second
	// DefaultPassTimeout bounds a single pass.
	DefaultPassTimeout = 2 * time.Minute
	// DefaultHeartbeatInterval is how often the worker reports liveness.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultStopTimeout is how long Stop waits for an in-flight pass.
	DefaultStopTimeout = 30 * time.Second
	// DefaultBatchLimit caps the batches claimed per pass.
	DefaultBatchLimit = 10
)

// PassRunner runs one processing pass. *engine.Processor implements it.
type PassRunner interface {
	ProcessPendingBatches(ctx context.Context, limit int) (engine.PassStats, error)
}

// PollerConfig tunes a Poller. Zero fields take the defaults above.
type PollerConfig struct {
	WorkerID          string
	PollInterval      time.Duration
	PassTimeout       time.Duration
	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
	BatchLimit        int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.WorkerID == "" {
		c.WorkerID = fmt.Sprintf("engine-%s", uuid.New().String()[:8])
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = DefaultPassTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	return c
}

// Stats are the poller's lifetime counters.
type Stats struct {
	WorkerID   string    `json:"worker_id"`
	Passes     int64     `json:"passes"`
	Errors     int64     `json:"errors"`
	Tenants    int64     `json:"tenants"`
	Deliveries int64     `json:"deliveries"`
	LastPassAt time.Time `json:"last_pass_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Poller calls a PassRunner on a fixed interval until stopped. Passes never
// overlap; a pass that outlasts the interval delays the next tick.
type Poller struct {
	runner   PassRunner
	registry Registry
	cfg      PollerConfig

	passes     int64
	errors     int64
	tenants    int64
	deliveries int64

	lastMu    sync.Mutex
	lastPass  time.Time
	lastError string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPoller creates a poller. registry may be nil.
func NewPoller(runner PassRunner, registry Registry, cfg PollerConfig) *Poller {
	return &Poller{runner: runner, registry: registry, cfg: cfg.withDefaults()}
}

// WorkerID returns the id the poller registers under.
func (p *Poller) WorkerID() string { return p.cfg.WorkerID }

// Start launches the poll and heartbeat loops. Calling Start on a running
// poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Poller] Starting worker %s (interval=%s, limit=%d)", p.cfg.WorkerID, p.cfg.PollInterval, p.cfg.BatchLimit)
	p.beat(p.ctx, true)

	p.wg.Add(2)
	go p.pollLoop()
	go p.heartbeatLoop()
}

// Stop cancels the loops and waits up to StopTimeout for an in-flight
// pass. An interrupted pass is resumed by the next worker.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	log.Println("[Poller] Stopping...")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[Poller] All goroutines stopped cleanly")
	case <-time.After(p.cfg.StopTimeout):
		log.Println("[Poller] Shutdown timeout - forcing stop")
	}

	if p.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.registry.Deregister(ctx, p.cfg.WorkerID); err != nil {
			log.Printf("[Poller] Deregister failed: %v", err)
		}
	}
	s := p.Stats()
	log.Printf("[Poller] Stopped. Passes: %d, Errors: %d, Deliveries: %d", s.Passes, s.Errors, s.Deliveries)
}

// Stats returns a snapshot of the counters.
func (p *Poller) Stats() Stats {
	p.lastMu.Lock()
	last, lastErr := p.lastPass, p.lastError
	p.lastMu.Unlock()
	return Stats{
		WorkerID:   p.cfg.WorkerID,
		Passes:     atomic.LoadInt64(&p.passes),
		Errors:     atomic.LoadInt64(&p.errors),
		Tenants:    atomic.LoadInt64(&p.tenants),
		Deliveries: atomic.LoadInt64(&p.deliveries),
		LastPassAt: last,
		LastError:  lastErr,
	}
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.RunOnce(p.ctx)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(p.ctx)
		}
	}
}

// RunOnce runs a single pass bounded by PassTimeout and records its stats.
func (p *Poller) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	passCtx, cancel := context.WithTimeout(ctx, p.cfg.PassTimeout)
	defer cancel()

	stats, err := p.runner.ProcessPendingBatches(passCtx, p.cfg.BatchLimit)
	atomic.AddInt64(&p.passes, 1)
	atomic.AddInt64(&p.tenants, int64(stats.TenantsProcessed))
	atomic.AddInt64(&p.deliveries, int64(stats.Deliveries))

	p.lastMu.Lock()
	p.lastPass = time.Now()
	if err != nil {
		p.lastError = err.Error()
	}
	p.lastMu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// Stopping; the pass resumes elsewhere.
			return
		}
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Poller] Pass failed: %v", err)
	}
}

func (p *Poller) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.beat(p.ctx, false)
		}
	}
}

func (p *Poller) beat(ctx context.Context, first bool) {
	s := p.Stats()
	if p.registry == nil {
		if !first {
			log.Printf("[Poller] Heartbeat %s: passes=%d errors=%d deliveries=%d", s.WorkerID, s.Passes, s.Errors, s.Deliveries)
		}
		return
	}
	// Entries outlive three missed beats.
	if err := p.registry.Heartbeat(ctx, s, 3*p.cfg.HeartbeatInterval); err != nil && ctx.Err() == nil {
		log.Printf("[Poller] Heartbeat failed: %v", err)
	}
}
