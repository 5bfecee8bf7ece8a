package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks whose lease expires. Extend renews the
// lease and returns ErrNotOwner once it was lost.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Factory creates a lock for key. Each call returns a fresh instance.
type Factory func(key string, ttl time.Duration) DistLock

// NewFactory picks the best available backend: Redis when redisClient is
// non-nil, PostgreSQL advisory locks when db is non-nil, otherwise an
// in-process lock that only excludes goroutines of this process.
func NewFactory(redisClient *redis.Client, db *sql.DB) Factory {
	switch {
	case redisClient != nil:
		return func(key string, ttl time.Duration) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string, _ time.Duration) DistLock { return NewPGAdvisoryLock(db, key) }
	default:
		return NewMemoryFactory()
	}
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection from Acquire until Release. A dropped connection releases it.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, errors.New("distlock: advisory lock already held by this instance")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock on the session that took it.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}

// =============================================================================
// In-process lock (single node, tests)
// =============================================================================

type memoryRegistry struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
}

type lease struct {
	owner   *memoryLock
	expires time.Time
}

// NewMemoryFactory returns a Factory whose locks exclude each other within
// this process. Expired leases can be taken over.
func NewMemoryFactory() Factory {
	reg := &memoryRegistry{held: map[string]lease{}, clock: time.Now}
	return func(key string, ttl time.Duration) DistLock {
		return &memoryLock{reg: reg, key: key, ttl: ttl}
	}
}

type memoryLock struct {
	reg *memoryRegistry
	key string
	ttl time.Duration
}

func (l *memoryLock) Acquire(_ context.Context) (bool, error) {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	now := l.reg.clock()
	if cur, ok := l.reg.held[l.key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	ttl := l.ttl
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	l.reg.held[l.key] = lease{owner: l, expires: now.Add(ttl)}
	return true, nil
}

func (l *memoryLock) Release(_ context.Context) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if cur, ok := l.reg.held[l.key]; ok && cur.owner == l {
		delete(l.reg.held, l.key)
	}
	return nil
}

func (l *memoryLock) Extend(_ context.Context, ttl time.Duration) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	now := l.reg.clock()
	cur, ok := l.reg.held[l.key]
	if !ok || cur.owner != l || !now.Before(cur.expires) {
		return ErrNotOwner
	}
	l.reg.held[l.key] = lease{owner: l, expires: now.Add(ttl)}
	return nil
}
