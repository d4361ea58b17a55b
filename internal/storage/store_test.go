package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-booking/internal/models"
)

func TestMemoryStoreCreateAssignsIDAndTime(t *testing.T) {
	s := NewMemoryStore()
	s.now = func() time.Time { return time.Unix(100, 0) }
	ctx := context.Background()

	r, err := s.CreateRide(ctx, models.RideRecord{FarePrice: 2500, DriverID: 3, PaymentStatus: "paid"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.RideID == "" || r.CreatedAt == nil || !r.CreatedAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("ride=%+v", r)
	}
	got, err := s.GetRide(ctx, r.RideID)
	if err != nil || got.FarePrice != 2500 {
		t.Fatalf("get=%+v err=%v", got, err)
	}
	if _, err := s.GetRide(ctx, "missing"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestMemoryIdempotencyLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s := NewMemoryIdempotency(time.Minute, 10*time.Second)
	s.now = func() time.Time { return now }

	if _, reserved, err := s.Reserve(ctx, "k1"); err != nil || !reserved {
		t.Fatalf("first reserve reserved=%v err=%v", reserved, err)
	}
	if _, _, err := s.Reserve(ctx, "k1"); !errors.Is(err, ErrKeyInFlight) {
		t.Fatalf("expected ErrKeyInFlight, got %v", err)
	}
	if err := s.Complete(ctx, "k1", "ride_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	id, reserved, err := s.Reserve(ctx, "k1")
	if err != nil || reserved || id != "ride_1" {
		t.Fatalf("replay id=%q reserved=%v err=%v", id, reserved, err)
	}

	now = now.Add(2 * time.Minute)
	if _, reserved, _ := s.Reserve(ctx, "k1"); !reserved {
		t.Fatal("expired key should be reservable again")
	}
	_ = s.Release(ctx, "k1")
	if _, reserved, _ := s.Reserve(ctx, "k1"); !reserved {
		t.Fatal("released key should be reservable again")
	}
}

func TestMemoryIdempotencyPendingLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s := NewMemoryIdempotency(time.Hour, 10*time.Second)
	s.now = func() time.Time { return now }

	_, _, _ = s.Reserve(ctx, "k1")
	now = now.Add(5 * time.Second)
	if _, _, err := s.Reserve(ctx, "k1"); !errors.Is(err, ErrKeyInFlight) {
		t.Fatalf("expected ErrKeyInFlight inside the lease, got %v", err)
	}
	now = now.Add(6 * time.Second)
	if _, reserved, err := s.Reserve(ctx, "k1"); err != nil || !reserved {
		t.Fatalf("abandoned reservation should be reclaimable after the lease, reserved=%v err=%v", reserved, err)
	}
}

// fakeKV implements KeyValue with expiry recorded per key.
type fakeKV struct {
	vals    map[string]string
	ttls    map[string]time.Duration
	dropGet int // number of Get calls that report redis.Nil
	err     error
}

func newFakeKV() *fakeKV {
	return &fakeKV{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.vals[key]; ok {
		return false, nil
	}
	f.vals[key], f.ttls[key] = value, ttl
	return true, nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	if f.dropGet > 0 {
		f.dropGet--
		delete(f.vals, key)
		return "", redis.Nil
	}
	v, ok := f.vals[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.vals[key], f.ttls[key] = value, ttl
	return nil
}

func (f *fakeKV) Del(ctx context.Context, key string) error {
	delete(f.vals, key)
	return nil
}

func TestRedisIdempotencyLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	s := NewRedisIdempotencyKV(kv, time.Hour, 15*time.Second)

	if _, reserved, err := s.Reserve(ctx, "k1"); err != nil || !reserved {
		t.Fatalf("reserve reserved=%v err=%v", reserved, err)
	}
	if kv.vals["idem:ride:k1"] != pendingMarker || kv.ttls["idem:ride:k1"] != 15*time.Second {
		t.Fatalf("pending marker must carry the lease ttl: %q %s", kv.vals["idem:ride:k1"], kv.ttls["idem:ride:k1"])
	}
	if _, _, err := s.Reserve(ctx, "k1"); !errors.Is(err, ErrKeyInFlight) {
		t.Fatalf("expected ErrKeyInFlight, got %v", err)
	}
	if err := s.Complete(ctx, "k1", "ride_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if kv.ttls["idem:ride:k1"] != time.Hour {
		t.Fatalf("completed key ttl=%s", kv.ttls["idem:ride:k1"])
	}
	id, reserved, err := s.Reserve(ctx, "k1")
	if err != nil || reserved || id != "ride_1" {
		t.Fatalf("replay id=%q reserved=%v err=%v", id, reserved, err)
	}
	_ = s.Release(ctx, "k1")
	if _, reserved, _ := s.Reserve(ctx, "k1"); !reserved {
		t.Fatal("released key should be reservable again")
	}
}

func TestRedisIdempotencyKeyExpiresBetweenCommands(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	kv.vals["idem:ride:k1"] = "ride_old"
	kv.dropGet = 1
	s := NewRedisIdempotencyKV(kv, time.Hour, time.Second)

	if _, reserved, err := s.Reserve(ctx, "k1"); err != nil || !reserved {
		t.Fatalf("expected the second SETNX to win, reserved=%v err=%v", reserved, err)
	}
}

func TestRedisIdempotencyPropagatesErrors(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	s := NewRedisIdempotencyKV(kv, time.Hour, time.Second)
	if _, _, err := s.Reserve(context.Background(), "k1"); err == nil || errors.Is(err, ErrKeyInFlight) {
		t.Fatalf("expected the redis error, got %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping without a client: %v", err)
	}
}
