package outbox

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeCommands implements Commands over maps; the due set keeps scores.
type fakeCommands struct {
	vals map[string][]byte
	due  map[string]map[string]float64
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{vals: map[string][]byte{}, due: map[string]map[string]float64{}}
}

func (f *fakeCommands) Load(ctx context.Context, key string) ([]byte, error) {
	b, ok := f.vals[key]
	if !ok {
		return nil, redis.Nil
	}
	return b, nil
}

func (f *fakeCommands) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.vals[key]
	return ok, nil
}

func (f *fakeCommands) DueMembers(ctx context.Context, dueKey string, maxScore int64, limit int64) ([]string, error) {
	var ids []string
	for id, score := range f.due[dueKey] {
		if score <= float64(maxScore) {
			ids = append(ids, id)
		}
	}
	set := f.due[dueKey]
	sort.Slice(ids, func(i, j int) bool { return set[ids[i]] < set[ids[j]] })
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeCommands) ZRem(ctx context.Context, dueKey, member string) error {
	delete(f.due[dueKey], member)
	return nil
}

func (f *fakeCommands) ZCard(ctx context.Context, dueKey string) (int64, error) {
	return int64(len(f.due[dueKey])), nil
}

func (f *fakeCommands) Save(ctx context.Context, entryKey string, value []byte, dueKey, member string, score float64, due bool) error {
	f.vals[entryKey] = value
	if f.due[dueKey] == nil {
		f.due[dueKey] = map[string]float64{}
	}
	if due {
		f.due[dueKey][member] = score
	} else {
		delete(f.due[dueKey], member)
	}
	return nil
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	cmd := newFakeCommands()
	s := NewRedisStoreWith(cmd, "outbox:rides")
	now := time.Unix(1000, 0)

	e := NewEntry(paidRide(), now)
	if err := s.Add(ctx, e); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := cmd.vals["outbox:rides:entry:"+e.ID]; !ok {
		t.Fatalf("entry key missing: %v", cmd.vals)
	}
	if score := cmd.due["outbox:rides:due"][e.ID]; score != float64(now.UnixMilli()) {
		t.Fatalf("due score=%v", score)
	}
	if n, _ := s.Pending(ctx); n != 1 {
		t.Fatalf("pending=%d", n)
	}

	due, err := s.Due(ctx, now, 10)
	if err != nil || len(due) != 1 || due[0].ID != e.ID || due[0].Ride.FarePrice != 2500 {
		t.Fatalf("due=%+v err=%v", due, err)
	}

	e.Status = StatusDelivered
	e.Attempts = 1
	if err := s.Update(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}
	if due, _ := s.Due(ctx, now.Add(time.Hour), 10); len(due) != 0 {
		t.Fatalf("delivered entry still due: %+v", due)
	}
	if n, _ := s.Pending(ctx); n != 0 {
		t.Fatalf("pending=%d", n)
	}
	got, err := s.Get(ctx, e.ID)
	if err != nil || got.Status != StatusDelivered || got.Attempts != 1 {
		t.Fatalf("get=%+v err=%v", got, err)
	}
}

func TestRedisStoreRetryMovesScore(t *testing.T) {
	ctx := context.Background()
	cmd := newFakeCommands()
	s := NewRedisStoreWith(cmd, "p")
	now := time.Unix(1000, 0)

	e := NewEntry(paidRide(), now)
	_ = s.Add(ctx, e)
	e.Attempts = 1
	e.NextAttempt = now.Add(30 * time.Second)
	_ = s.Update(ctx, e)

	if due, _ := s.Due(ctx, now.Add(29*time.Second), 10); len(due) != 0 {
		t.Fatalf("entry due before its next attempt: %+v", due)
	}
	if due, _ := s.Due(ctx, now.Add(30*time.Second), 10); len(due) != 1 {
		t.Fatalf("entry not due at its next attempt: %+v", due)
	}

	e.Status = StatusDead
	_ = s.Update(ctx, e)
	if n, _ := s.Pending(ctx); n != 0 {
		t.Fatalf("dead entry still pending: %d", n)
	}
}

func TestRedisStoreDropsStaleIndex(t *testing.T) {
	ctx := context.Background()
	cmd := newFakeCommands()
	s := NewRedisStoreWith(cmd, "p")
	cmd.due["p:due"] = map[string]float64{"gone": 1}

	due, err := s.Due(ctx, time.Unix(1000, 0), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("due=%+v err=%v", due, err)
	}
	if _, ok := cmd.due["p:due"]["gone"]; ok {
		t.Fatal("stale index member should be removed")
	}
	if err := s.Update(ctx, Entry{ID: "gone"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRelayOverRedisStore(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	store := NewRedisStoreWith(newFakeCommands(), "p")
	s := &fakeSender{fail: 1, err: errors.New("connection refused")}
	r := NewRelay(store, s, nil, Options{MaxAttempts: 3, BaseDelay: time.Second, Now: clk.Now})
	ctx := context.Background()

	e, _ := r.Enqueue(ctx, paidRide())
	clk.Advance(time.Second)
	if n, err := r.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	got, _ := store.Get(ctx, e.ID)
	if got.Status != StatusDelivered || got.Attempts != 2 {
		t.Fatalf("entry=%+v", got)
	}
}
