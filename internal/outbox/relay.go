package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-booking/internal/backend"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

// Sender delivers a ride record. The key is stable across redeliveries.
type Sender interface {
	CreateRide(ctx context.Context, idempotencyKey string, ride models.RideRecord) (models.RideRecord, error)
}

type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Relay moves entries from a Store to a Sender.
type Relay struct {
	store  Store
	sender Sender
	logger *slog.Logger
	opts   Options

	// deliveries are serialized so Enqueue and Flush never send one entry twice
	mu sync.Mutex
}

func NewRelay(store Store, sender Sender, logger *slog.Logger, opts Options) *Relay {
	opts.defaults()
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{store: store, sender: sender, logger: logger, opts: opts}
}

// Enqueue records the ride and makes one immediate delivery attempt. Only a
// failure to record the ride is returned; delivery failures leave the entry
// pending for Flush.
func (r *Relay) Enqueue(ctx context.Context, ride models.RideRecord) (Entry, error) {
	e := NewEntry(ride, r.opts.Now())
	if err := r.store.Add(ctx, e); err != nil {
		return Entry{}, err
	}
	r.logger.Info("ride queued", "outbox_id", e.ID, "driver_id", ride.DriverID, "user_id", ride.UserID)

	r.mu.Lock()
	defer r.mu.Unlock()
	e = r.deliver(ctx, e)
	r.reportPending(ctx)
	return e, nil
}

// Flush delivers every due entry once and reports how many landed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due, err := r.store.Due(ctx, r.opts.Now(), r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if r.deliver(ctx, e).Status == StatusDelivered {
			delivered++
		}
	}
	r.reportPending(ctx)
	return delivered, ctx.Err()
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Relay) deliver(ctx context.Context, e Entry) Entry {
	e.Attempts++
	_, err := r.sender.CreateRide(ctx, e.ID, e.Ride)
	now := r.opts.Now()
	e.UpdatedAt = now

	switch {
	case err == nil:
		e.Status = StatusDelivered
		e.LastError = ""
		observability.OutboxDeliveries.WithLabelValues("delivered").Inc()
		r.logger.Info("ride delivered", "outbox_id", e.ID, "attempts", e.Attempts)
	case permanent(err) || e.Attempts >= r.opts.MaxAttempts:
		e.Status = StatusDead
		e.LastError = err.Error()
		observability.OutboxDeliveries.WithLabelValues("dead").Inc()
		r.logger.Error("ride delivery abandoned; rider was charged without a ride record",
			"outbox_id", e.ID, "attempts", e.Attempts, "error", err, "user_id", e.Ride.UserID, "fare_price", e.Ride.FarePrice)
	default:
		e.LastError = err.Error()
		e.NextAttempt = now.Add(r.backoff(e.Attempts))
		observability.OutboxDeliveries.WithLabelValues("retry").Inc()
		r.logger.Warn("ride delivery failed", "outbox_id", e.ID, "attempts", e.Attempts, "next_attempt", e.NextAttempt, "error", err)
	}

	// the caller's ctx may be the one that just failed the send
	if uerr := r.store.Update(context.WithoutCancel(ctx), e); uerr != nil {
		r.logger.Error("outbox update failed", "outbox_id", e.ID, "error", uerr)
	}
	return e
}

func (r *Relay) backoff(attempts int) time.Duration {
	d := r.opts.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.opts.MaxDelay {
			return r.opts.MaxDelay
		}
	}
	return d
}

func (r *Relay) reportPending(ctx context.Context) {
	if n, err := r.store.Pending(context.WithoutCancel(ctx)); err == nil {
		observability.OutboxPending.Set(float64(n))
	}
}

// permanent reports errors a retry cannot fix, such as a rejected payload.
func permanent(err error) bool {
	var se *backend.StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}
