package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
)

var ErrRideNotFound = errors.New("ride not found")

// RideStore defines persistence operations for paid rides.
type RideStore interface {
	CreateRide(ctx context.Context, r models.RideRecord) (models.RideRecord, error)
	GetRide(ctx context.Context, id string) (models.RideRecord, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.RideRecord
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.RideRecord), now: time.Now}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r models.RideRecord) (models.RideRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.RideID = uuid.NewString()
	created := m.now().UTC()
	r.CreatedAt = &created
	m.rides[r.RideID] = r
	return r, nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (models.RideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.RideRecord{}, ErrRideNotFound
	}
	return r, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}
