package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyInFlight is returned when another request holds the same key.
var ErrKeyInFlight = errors.New("a request with this idempotency key is in progress")

const pendingMarker = "\x00pending"

// IdempotencyStore maps Idempotency-Key values to the ride they created.
type IdempotencyStore interface {
	// Reserve claims key. If the key already completed, the stored ride id
	// is returned with reserved=false.
	Reserve(ctx context.Context, key string) (rideID string, reserved bool, err error)
	Complete(ctx context.Context, key, rideID string) error
	Release(ctx context.Context, key string) error
}

// DefaultLease bounds how long a reservation stays in flight when the
// request holding it never completes.
const DefaultLease = 30 * time.Second

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryIdempotency is an in-memory IdempotencyStore; safe for concurrent use.
type MemoryIdempotency struct {
	mu    sync.Mutex
	m     map[string]memoryEntry
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
}

// NewMemoryIdempotency keeps completed keys for ttl and pending reservations
// for lease. A non-positive lease means DefaultLease.
func NewMemoryIdempotency(ttl, lease time.Duration) *MemoryIdempotency {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryIdempotency{m: make(map[string]memoryEntry), ttl: ttl, lease: lease, now: time.Now}
}

func (s *MemoryIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.m[key]; ok && now.Before(e.expires) {
		if e.value == pendingMarker {
			return "", false, ErrKeyInFlight
		}
		return e.value, false, nil
	}
	s.m[key] = memoryEntry{value: pendingMarker, expires: now.Add(s.lease)}
	return "", true, nil
}

func (s *MemoryIdempotency) Complete(ctx context.Context, key, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memoryEntry{value: rideID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotency) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// KeyValue is the subset of redis commands RedisIdempotency needs. Get
// returns redis.Nil for a missing key.
type KeyValue interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisKV struct{ c *redis.Client }

func (r redisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r redisKV) Get(ctx context.Context, key string) (string, error) {
	return r.c.Get(ctx, key).Result()
}

func (r redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r redisKV) Del(ctx context.Context, key string) error { return r.c.Del(ctx, key).Err() }

// RedisIdempotency stores keys under idem:ride:<key>. Pending reservations
// expire after the lease, completed ones after the ttl.
type RedisIdempotency struct {
	kv     KeyValue
	client *redis.Client
	ttl    time.Duration
	lease  time.Duration
}

func NewRedisIdempotency(addr, password string, ttl, lease time.Duration) *RedisIdempotency {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	r := NewRedisIdempotencyKV(redisKV{c: c}, ttl, lease)
	r.client = c
	return r
}

// NewRedisIdempotencyKV builds the store on an existing command set.
func NewRedisIdempotencyKV(kv KeyValue, ttl, lease time.Duration) *RedisIdempotency {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisIdempotency{kv: kv, ttl: ttl, lease: lease}
}

func idemKey(key string) string { return "idem:ride:" + key }

func (r *RedisIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := r.kv.SetNX(ctx, idemKey(key), pendingMarker, r.lease)
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := r.kv.Get(ctx, idemKey(key))
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = r.kv.SetNX(ctx, idemKey(key), pendingMarker, r.lease)
		if err != nil || !ok {
			return "", false, ErrKeyInFlight
		}
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == pendingMarker {
		return "", false, ErrKeyInFlight
	}
	return v, false, nil
}

func (r *RedisIdempotency) Complete(ctx context.Context, key, rideID string) error {
	return r.kv.Set(ctx, idemKey(key), rideID, r.ttl)
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.kv.Del(ctx, idemKey(key))
}

func (r *RedisIdempotency) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisIdempotency) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
