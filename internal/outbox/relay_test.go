package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/backend"
	"github.com/example/ride-booking/internal/models"
)

// fakeSender fails the first `fail` calls with err, then succeeds.
type fakeSender struct {
	mu    sync.Mutex
	fail  int
	err   error
	calls []string
}

func (f *fakeSender) CreateRide(ctx context.Context, key string, ride models.RideRecord) (models.RideRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if len(f.calls) <= f.fail {
		return models.RideRecord{}, f.err
	}
	return ride, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newRelay(s Sender, clk *fakeClock) (*Relay, *MemoryStore) {
	store := NewMemoryStore()
	return NewRelay(store, s, nil, Options{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Now: clk.Now}), store
}

func paidRide() models.RideRecord {
	return models.RideRecord{FarePrice: 2500, PaymentStatus: models.PaymentStatusPaid, DriverID: 3, UserID: "user_1", RideTime: "13"}
}

func TestEnqueueDeliversImmediately(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := &fakeSender{}
	r, store := newRelay(s, clk)

	e, err := r.Enqueue(context.Background(), paidRide())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if e.Status != StatusDelivered || e.Attempts != 1 {
		t.Fatalf("entry=%+v", e)
	}
	if len(s.calls) != 1 || s.calls[0] != e.ID {
		t.Fatalf("expected one call keyed by entry id, got %v", s.calls)
	}
	if n, _ := store.Pending(context.Background()); n != 0 {
		t.Fatalf("pending=%d", n)
	}
}

func TestFailedDeliveryIsRetriedWithBackoff(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := &fakeSender{fail: 2, err: errors.New("connection refused")}
	r, store := newRelay(s, clk)
	ctx := context.Background()

	e, err := r.Enqueue(ctx, paidRide())
	if err != nil {
		t.Fatalf("enqueue must not fail on delivery error: %v", err)
	}
	if e.Status != StatusPending || !e.NextAttempt.Equal(clk.t.Add(time.Second)) {
		t.Fatalf("entry=%+v", e)
	}

	if n, _ := r.Flush(ctx); n != 0 || len(s.calls) != 1 {
		t.Fatalf("entry must not be due before backoff elapses; delivered=%d calls=%d", n, len(s.calls))
	}

	clk.Advance(time.Second)
	if _, err := r.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, _ := store.Get(ctx, e.ID)
	if got.Attempts != 2 || !got.NextAttempt.Equal(clk.t.Add(2*time.Second)) {
		t.Fatalf("second attempt should double the delay: %+v", got)
	}

	clk.Advance(2 * time.Second)
	n, err := r.Flush(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected delivery on third attempt, n=%d err=%v", n, err)
	}
	for _, k := range s.calls {
		if k != e.ID {
			t.Fatalf("idempotency key changed across attempts: %v", s.calls)
		}
	}
}

func TestEntryDeadAfterMaxAttempts(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := &fakeSender{fail: 10, err: errors.New("timeout")}
	r, store := newRelay(s, clk)
	ctx := context.Background()

	e, _ := r.Enqueue(ctx, paidRide())
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		_, _ = r.Flush(ctx)
	}
	got, _ := store.Get(ctx, e.ID)
	if got.Status != StatusDead || got.Attempts != 3 {
		t.Fatalf("entry=%+v", got)
	}
	if len(s.calls) != 3 {
		t.Fatalf("calls=%d", len(s.calls))
	}
}

func TestRejectedPayloadIsNotRetried(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := &fakeSender{fail: 1, err: &backend.StatusError{Call: "create_ride", Status: 400}}
	r, _ := newRelay(s, clk)

	e, _ := r.Enqueue(context.Background(), paidRide())
	if e.Status != StatusDead {
		t.Fatalf("4xx should dead-letter immediately: %+v", e)
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := &fakeSender{fail: 1, err: &backend.StatusError{Call: "create_ride", Status: 503}}
	r, _ := newRelay(s, clk)

	e, _ := r.Enqueue(context.Background(), paidRide())
	if e.Status != StatusPending {
		t.Fatalf("5xx should stay pending: %+v", e)
	}
}

// TestKeyInFlightIsRetried runs the real client against a server that
// reports the idempotency key as in flight once, then accepts the ride.
func TestKeyInFlightIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"a request with this idempotency key is in progress"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"ride_id":"r1"}}`))
	}))
	defer srv.Close()

	clk := &fakeClock{t: time.Unix(1000, 0)}
	r, store := newRelay(backend.NewClient(srv.URL, time.Second), clk)
	ctx := context.Background()

	e, _ := r.Enqueue(ctx, paidRide())
	if e.Status != StatusPending || e.Attempts != 1 {
		t.Fatalf("409 should leave the entry pending: %+v", e)
	}
	clk.Advance(time.Second)
	if n, err := r.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("expected delivery after backoff, n=%d err=%v", n, err)
	}
	got, _ := store.Get(ctx, e.ID)
	if got.Status != StatusDelivered || got.Attempts != 2 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("entry=%+v calls=%d", got, calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r, _ := newRelay(&fakeSender{}, clk)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestMemoryStoreDueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Unix(1000, 0)
	for i, off := range []time.Duration{3, 1, 2, 10} {
		e := NewEntry(paidRide(), base.Add(off*time.Second))
		e.ID = string(rune('a' + i))
		_ = s.Add(ctx, e)
	}
	due, _ := s.Due(ctx, base.Add(5*time.Second), 2)
	if len(due) != 2 || due[0].ID != "b" || due[1].ID != "c" {
		t.Fatalf("due=%v", due)
	}
	if err := s.Update(ctx, Entry{ID: "zz"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
