// Package outbox tracks ride records that must reach the booking API after
// the rider has already been charged. Entries survive delivery failures and
// are retried with backoff until they land or run out of attempts.
package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
)

var ErrNotFound = errors.New("outbox entry not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

type Entry struct {
	ID          string            `json:"id"`
	Ride        models.RideRecord `json:"ride"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	NextAttempt time.Time         `json:"next_attempt"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewEntry returns a pending entry due immediately.
func NewEntry(ride models.RideRecord, now time.Time) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Ride:        ride,
		Status:      StatusPending,
		NextAttempt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Store persists outbox entries.
type Store interface {
	Add(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	// Due lists pending entries whose NextAttempt is not after now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Update replaces a stored entry; a non-pending entry is never due again.
	Update(ctx context.Context, e Entry) error
	Pending(ctx context.Context) (int, error)
}

// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Add(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if e.Status == StatusPending && !e.NextAttempt.After(now) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return ErrNotFound
	}
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryStore) Pending(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Status == StatusPending {
			n++
		}
	}
	return n, nil
}
