package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	locks := NewFactory(client, nil)
	a := locks("batch:1", time.Minute)
	b := locks("batch:1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is excluded")

	require.NoError(t, b.Release(ctx), "releasing a lock we do not own is a no-op")
	assert.True(t, mr.Exists("lock:batch:1"))

	require.NoError(t, a.(*RedisLock).Extend(ctx, 2*time.Minute))
	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:batch:1"))
	assert.ErrorIs(t, a.(*RedisLock).Extend(ctx, time.Minute), ErrNotOwner)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	ok, err := NewRedisLock(client, "k", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := NewPGAdvisoryLock(db, "batch:1")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	locks := NewMemoryFactory()
	a, b := locks("k", time.Minute), locks("k", time.Minute)

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)
	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok, "release by a non-owner keeps the lease")

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = locks("other", time.Minute).Acquire(ctx)
	assert.True(t, ok)
}

func TestMemoryLock_Extend(t *testing.T) {
	ctx := context.Background()
	locks := NewMemoryFactory()
	a := locks("k", time.Minute)

	ext, ok := a.(Extender)
	require.True(t, ok)
	assert.ErrorIs(t, ext.Extend(ctx, time.Minute), ErrNotOwner, "not acquired yet")

	acquired, _ := a.Acquire(ctx)
	require.True(t, acquired)
	assert.NoError(t, ext.Extend(ctx, time.Minute))

	require.NoError(t, a.Release(ctx))
	assert.ErrorIs(t, ext.Extend(ctx, time.Minute), ErrNotOwner)
}
