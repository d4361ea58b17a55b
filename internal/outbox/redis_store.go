package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Commands is the subset of redis the outbox needs. Load returns redis.Nil
// for a missing key. Save writes the entry and its due-set membership in one
// transaction.
type Commands interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	DueMembers(ctx context.Context, dueKey string, maxScore int64, limit int64) ([]string, error)
	ZRem(ctx context.Context, dueKey, member string) error
	ZCard(ctx context.Context, dueKey string) (int64, error)
	Save(ctx context.Context, entryKey string, value []byte, dueKey, member string, score float64, due bool) error
}

type redisAdapter struct{ c *redis.Client }

func (r redisAdapter) Load(ctx context.Context, key string) ([]byte, error) {
	return r.c.Get(ctx, key).Bytes()
}

func (r redisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, key).Result()
	return n > 0, err
}

func (r redisAdapter) DueMembers(ctx context.Context, dueKey string, maxScore int64, limit int64) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(maxScore, 10)}
	if limit > 0 {
		by.Count = limit
	}
	return r.c.ZRangeByScore(ctx, dueKey, by).Result()
}

func (r redisAdapter) ZRem(ctx context.Context, dueKey, member string) error {
	return r.c.ZRem(ctx, dueKey, member).Err()
}

func (r redisAdapter) ZCard(ctx context.Context, dueKey string) (int64, error) {
	return r.c.ZCard(ctx, dueKey).Result()
}

func (r redisAdapter) Save(ctx context.Context, entryKey string, value []byte, dueKey, member string, score float64, due bool) error {
	_, err := r.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey, value, 0)
		if due {
			pipe.ZAdd(ctx, dueKey, redis.Z{Score: score, Member: member})
		} else {
			pipe.ZRem(ctx, dueKey, member)
		}
		return nil
	})
	return err
}

// RedisStore keeps each entry as JSON under <prefix>:entry:<id> and indexes
// pending entries in the sorted set <prefix>:due scored by next attempt in ms.
type RedisStore struct {
	cmd    Commands
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{cmd: redisAdapter{c: c}, client: c, prefix: prefix}
}

// NewRedisStoreWith builds the store on an existing command set.
func NewRedisStoreWith(cmd Commands, prefix string) *RedisStore {
	return &RedisStore{cmd: cmd, prefix: prefix}
}

func (r *RedisStore) entryKey(id string) string { return r.prefix + ":entry:" + id }
func (r *RedisStore) dueKey() string            { return r.prefix + ":due" }

func (r *RedisStore) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) Add(ctx context.Context, e Entry) error {
	return r.write(ctx, e)
}

func (r *RedisStore) Get(ctx context.Context, id string) (Entry, error) {
	b, err := r.cmd.Load(ctx, r.entryKey(id))
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode outbox entry %s: %w", id, err)
	}
	return e, nil
}

func (r *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	ids, err := r.cmd.DueMembers(ctx, r.dueKey(), now.UnixMilli(), int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// index points at an expired or deleted entry
			_ = r.cmd.ZRem(ctx, r.dueKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisStore) Update(ctx context.Context, e Entry) error {
	ok, err := r.cmd.Exists(ctx, r.entryKey(e.ID))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return r.write(ctx, e)
}

func (r *RedisStore) Pending(ctx context.Context) (int, error) {
	n, err := r.cmd.ZCard(ctx, r.dueKey())
	return int(n), err
}

func (r *RedisStore) write(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.cmd.Save(ctx, r.entryKey(e.ID), b, r.dueKey(), e.ID, float64(e.NextAttempt.UnixMilli()), e.Status == StatusPending)
}
