package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string                    `json:"status"` // healthy, degraded, unhealthy
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // up, down, degraded
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Check reports whether one dependency is healthy.
type Check func(ctx context.Context) error

type component struct {
	name     string
	critical bool
	slow     time.Duration
	check    Check
}

// HealthChecker runs the registered checks concurrently.
type HealthChecker struct {
	components []component
	startTime  time.Time
}

const healthVersion = "1.0.0"

// NewHealthChecker creates a checker with no checks.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// Register adds a check. A critical check that fails makes the service
// unhealthy; any slower than slow is reported degraded.
func (hc *HealthChecker) Register(name string, critical bool, slow time.Duration, c Check) {
	hc.components = append(hc.components, component{name: name, critical: critical, slow: slow, check: c})
}

// SQLCheck pings a database.
func SQLCheck(db *sql.DB) Check {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

// RedisCheck pings Redis.
func RedisCheck(client redis.UniversalClient) Check {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// HeadBucketAPI is the S3 call the bucket check needs.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Check verifies bucket is reachable.
func S3Check(client HeadBucketAPI, bucket string) Check {
	return func(ctx context.Context) error {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
		return err
	}
}

// HandleHealth reports every component. It always answers 200; use
// /health/ready for readiness checks that need a 503.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  hc.overall(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness answers 503 when a critical component is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := hc.overall(checks)
	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, len(hc.components))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range hc.components {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runCheck(ctx, c)
			mu.Lock()
			checks[c.name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return checks
}

func runCheck(ctx context.Context, c component) ComponentCheck {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := c.check(checkCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("check failed: %v", err)}
	}
	if c.slow > 0 && latency > c.slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "ok"}
}

func (hc *HealthChecker) overall(checks map[string]ComponentCheck) string {
	status := "healthy"
	names := make([]string, 0, len(hc.components))
	critical := map[string]bool{}
	for _, c := range hc.components {
		names = append(names, c.name)
		critical[c.name] = c.critical
	}
	sort.Strings(names)
	for _, n := range names {
		switch checks[n].Status {
		case "down":
			if critical[n] {
				return "unhealthy"
			}
			status = "degraded"
		case "degraded":
			status = "degraded"
		}
	}
	return status
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
