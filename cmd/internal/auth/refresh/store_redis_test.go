package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T, retention time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb, "", retention), mr
}

func testRecord(id, digest string, now time.Time) Record {
	return Record{
		ID:          id,
		SubjectID:   "u1",
		TokenDigest: digest,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testRecord("r1", "d1", now)
	require.NoError(t, store.Create(ctx, rec))

	require.True(t, mr.Exists(DefaultRedisPrefix+":id:r1"))
	got, err := mr.Get(DefaultRedisPrefix + ":dg:d1")
	require.NoError(t, err)
	require.Equal(t, "r1", got)

	byID, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, rec, byID)

	byDigest, err := store.GetByDigest(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, rec, byDigest)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByDigest(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, testRecord("r1", "d1", now)))
	require.ErrorIs(t, store.Create(ctx, testRecord("r1", "d2", now)), errDuplicate)
	require.ErrorIs(t, store.Create(ctx, testRecord("r2", "d1", now)), errDuplicate)
}

func TestRedisStore_RotateReturnsPreviousState(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, testRecord("r1", "d1", now)))

	next := testRecord("r2", "d2", now.Add(time.Minute))
	next.SubjectID = ""
	prev, err := store.Rotate(ctx, "d1", next, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "r1", prev.ID)
	require.False(t, prev.Revoked)
	require.Empty(t, prev.RotatedTo)

	cur, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, cur.Revoked)
	require.Equal(t, "r2", cur.RotatedTo)
	require.Equal(t, ReasonRotation, cur.RevocationReason)
	require.Equal(t, now.Add(time.Minute), cur.RevokedAt)

	succ, err := store.GetByDigest(ctx, "d2")
	require.NoError(t, err)
	require.Equal(t, "u1", succ.SubjectID)

	// Second rotation sees the link but keeps it.
	prev, err = store.Rotate(ctx, "d1", testRecord("r3", "d3", now), now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "r2", prev.RotatedTo)

	cur, err = store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "r2", cur.RotatedTo)
	require.Equal(t, now.Add(time.Minute), cur.RevokedAt)
}

func TestRedisStore_RotateRejections(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Rotate(ctx, "missing", testRecord("x", "dx", now), now)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Create(ctx, testRecord("r1", "d1", now)))
	_, err = store.Rotate(ctx, "d1", testRecord("r2", "d2", now), now.Add(time.Hour))
	require.ErrorIs(t, err, ErrExpired)

	changed, err := store.Revoke(ctx, "r1", now, ReasonLogout)
	require.NoError(t, err)
	require.True(t, changed)
	_, err = store.Rotate(ctx, "d1", testRecord("r2", "d2", now), now)
	require.ErrorIs(t, err, ErrRevoked)

	_, err = store.GetByID(ctx, "r2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisTestStore(t, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	changed, err := store.Revoke(ctx, "missing", now, ReasonLogout)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, store.Create(ctx, testRecord("r1", "d1", now)))
	changed, err = store.Revoke(ctx, "r1", now, ReasonLogout)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = store.Revoke(ctx, "r1", now.Add(time.Minute), ReasonReuseDetected)
	require.NoError(t, err)
	require.False(t, changed)

	rec, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.Equal(t, now, rec.RevokedAt)
	require.Equal(t, ReasonLogout, rec.RevocationReason)
}

func TestRedisStore_Retention(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisTestStore(t, 24*time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(now)

	require.NoError(t, store.Create(ctx, testRecord("r1", "d1", now)))
	require.Equal(t, 25*time.Hour, mr.TTL(DefaultRedisPrefix+":id:r1"))
	require.Equal(t, 25*time.Hour, mr.TTL(DefaultRedisPrefix+":dg:d1"))

	mr.FastForward(26 * time.Hour)
	_, err := store.GetByID(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
}
