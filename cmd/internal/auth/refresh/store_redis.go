package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces refresh keys.
const DefaultRedisPrefix = "postboard:refresh"

const (
	redisStatusNotFound = 0
	redisStatusOK       = 1
	redisStatusExpired  = 2
	redisStatusRevoked  = 3
	redisStatusConflict = 4
)

// Record hash fields. Times are unix milliseconds.
const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "subject", ARGV[2], "digest", ARGV[3],
  "created", ARGV[4], "expires", ARGV[5],
  "rotated_to", "", "revoked", "0", "revoked_at", "0", "reason", "")
redis.call("SET", KEYS[2], ARGV[1])
local keep = tonumber(ARGV[6])
if keep > 0 then
  redis.call("PEXPIREAT", KEYS[1], keep)
  redis.call("PEXPIREAT", KEYS[2], keep)
end
return 1
`

var createRecordLua = redis.NewScript(createRecordScript)

// KEYS: presented digest key, next id key, next digest key.
// ARGV: prefix, next id, next digest, now ms, next expires ms, keep-until ms, reason.
const rotateRecordScript = `
local id = redis.call("GET", KEYS[1])
if not id then
  return {0}
end
local pkey = ARGV[1] .. ":id:" .. id
local f = redis.call("HMGET", pkey,
  "subject", "digest", "created", "expires", "rotated_to", "revoked", "revoked_at", "reason")
if not f[1] then
  return {0}
end
local now = tonumber(ARGV[4])
local rotated = f[5] or ""
local revoked = f[6] or "0"
if now >= tonumber(f[4]) then
  return {2}
end
if revoked == "1" and rotated == "" then
  return {3}
end
if redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return {4}
end
redis.call("HSET", KEYS[2],
  "subject", f[1], "digest", ARGV[3],
  "created", ARGV[4], "expires", ARGV[5],
  "rotated_to", "", "revoked", "0", "revoked_at", "0", "reason", "")
redis.call("SET", KEYS[3], ARGV[2])
local keep = tonumber(ARGV[6])
if keep > 0 then
  redis.call("PEXPIREAT", KEYS[2], keep)
  redis.call("PEXPIREAT", KEYS[3], keep)
end
if revoked ~= "1" then
  redis.call("HSET", pkey, "revoked", "1", "revoked_at", ARGV[4], "reason", ARGV[7])
end
if rotated == "" then
  redis.call("HSET", pkey, "rotated_to", ARGV[2])
end
return {1, id, f[1], f[2], f[3], f[4], rotated, revoked, f[7] or "0", f[8] or ""}
`

var rotateRecordLua = redis.NewScript(rotateRecordScript)

const revokeRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "reason", ARGV[2])
return 1
`

var revokeRecordLua = redis.NewScript(revokeRecordScript)

// RedisStore implements Store on Redis.
//
// Each record is a hash at <prefix>:id:<id>; <prefix>:dg:<digest> maps a digest
// to its id. Rotation is one Lua script, so concurrent rotations of the same
// token serialize inside Redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed refresh store.
//
// retention > 0 lets keys expire that long after the record's ExpiresAt;
// zero keeps them until deleted externally.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) idKey(id string) string         { return s.prefix + ":id:" + id }
func (s *RedisStore) digestKey(digest string) string { return s.prefix + ":dg:" + digest }

func (s *RedisStore) keepUntil(expiresAt time.Time) int64 {
	if s.retention <= 0 {
		return 0
	}
	return expiresAt.Add(s.retention).UnixMilli()
}

// Create inserts a new record.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	res, err := createRecordLua.Run(ctx, s.rdb,
		[]string{s.idKey(rec.ID), s.digestKey(rec.TokenDigest)},
		rec.ID,
		rec.SubjectID,
		rec.TokenDigest,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		s.keepUntil(rec.ExpiresAt),
	).Int64()
	if err != nil {
		return err
	}
	if res != redisStatusOK {
		return fmt.Errorf("%w: id %s", errDuplicate, rec.ID)
	}
	return nil
}

// GetByID loads a record by ID.
func (s *RedisStore) GetByID(ctx context.Context, id string) (Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.idKey(id)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}

	return recordFromFields(id, []string{
		fields["subject"],
		fields["digest"],
		fields["created"],
		fields["expires"],
		fields["rotated_to"],
		fields["revoked"],
		fields["revoked_at"],
		fields["reason"],
	})
}

// GetByDigest loads a record by token digest.
func (s *RedisStore) GetByDigest(ctx context.Context, digest string) (Record, error) {
	id, err := s.rdb.Get(ctx, s.digestKey(digest)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return s.GetByID(ctx, id)
}

// Rotate runs the rotation script.
func (s *RedisStore) Rotate(ctx context.Context, digest string, next Record, now time.Time) (Record, error) {
	result, err := rotateRecordLua.Run(ctx, s.rdb,
		[]string{s.digestKey(digest), s.idKey(next.ID), s.digestKey(next.TokenDigest)},
		s.prefix,
		next.ID,
		next.TokenDigest,
		now.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		s.keepUntil(next.ExpiresAt),
		ReasonRotation,
	).Slice()
	if err != nil {
		return Record{}, err
	}
	if len(result) == 0 {
		return Record{}, errors.New("refresh: invalid rotate script response")
	}

	code, ok := result[0].(int64)
	if !ok {
		return Record{}, errors.New("refresh: invalid rotate script status")
	}

	switch code {
	case redisStatusNotFound:
		return Record{}, ErrNotFound
	case redisStatusExpired:
		return Record{}, ErrExpired
	case redisStatusRevoked:
		return Record{}, ErrRevoked
	case redisStatusConflict:
		return Record{}, fmt.Errorf("%w: id %s", errDuplicate, next.ID)
	case redisStatusOK:
	default:
		return Record{}, fmt.Errorf("refresh: unknown rotate script status %d", code)
	}

	if len(result) != 10 {
		return Record{}, errors.New("refresh: short rotate script payload")
	}
	vals := make([]string, 0, 9)
	for _, v := range result[1:] {
		str, ok := v.(string)
		if !ok {
			return Record{}, errors.New("refresh: invalid rotate script payload")
		}
		vals = append(vals, str)
	}
	return recordFromFields(vals[0], vals[1:])
}

// Revoke marks a record revoked.
func (s *RedisStore) Revoke(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	n, err := revokeRecordLua.Run(ctx, s.rdb,
		[]string{s.idKey(id)},
		now.UnixMilli(),
		reason,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// recordFromFields decodes hash values in the order
// subject, digest, created, expires, rotated_to, revoked, revoked_at, reason.
func recordFromFields(id string, f []string) (Record, error) {
	if len(f) != 8 {
		return Record{}, errors.New("refresh: corrupt record")
	}

	created, err := parseMillis(f[2])
	if err != nil {
		return Record{}, fmt.Errorf("refresh: corrupt record %s: %w", id, err)
	}
	expires, err := parseMillis(f[3])
	if err != nil {
		return Record{}, fmt.Errorf("refresh: corrupt record %s: %w", id, err)
	}
	revokedAt, err := parseMillis(f[6])
	if err != nil {
		return Record{}, fmt.Errorf("refresh: corrupt record %s: %w", id, err)
	}

	return Record{
		ID:               id,
		SubjectID:        f[0],
		TokenDigest:      f[1],
		CreatedAt:        created,
		ExpiresAt:        expires,
		RotatedTo:        f[4],
		Revoked:          f[5] == "1",
		RevokedAt:        revokedAt,
		RevocationReason: f[7],
	}, nil
}

func parseMillis(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
