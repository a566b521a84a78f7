package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound means the booking id is unknown. Callers treat it as a
// recoverable condition, never fatal.
var ErrNotFound = errors.New("booking not found")

// BookingStore is the system of record for bookings and driver locations.
type BookingStore interface {
	FindBooking(ctx context.Context, id string) (*models.Booking, error)
	SaveBooking(ctx context.Context, b *models.Booking) error
	SaveDriverLocation(ctx context.Context, pos models.DriverPosition) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	bookings  map[string]models.Booking
	locations map[string]models.DriverPosition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:  make(map[string]models.Booking),
		locations: make(map[string]models.DriverPosition),
	}
}

func (m *MemoryStore) FindBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := b
	return &out, nil
}

func (m *MemoryStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) SaveDriverLocation(ctx context.Context, pos models.DriverPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[pos.DriverID] = pos
	return nil
}
