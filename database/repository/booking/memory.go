// File: database/repository/booking/memory.go
package bookingRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"servify/domain"
	"servify/models"
)

type memoryBookingRepo struct {
	mu       sync.Mutex
	bookings map[string]models.Booking
}

// NewMemoryBookingRepo constructs an in-memory BookingRepository.
func NewMemoryBookingRepo() BookingRepository {
	return &memoryBookingRepo{bookings: make(map[string]models.Booking)}
}

func (r *memoryBookingRepo) Create(_ context.Context, b *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = *b
	return nil
}

func (r *memoryBookingRepo) GetByID(_ context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *memoryBookingRepo) UpdateVersioned(_ context.Context, b *models.Booking, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return domain.ErrStaleState
	}
	b.Version = expectedVersion + 1
	r.bookings[b.ID] = *b
	return nil
}

func (r *memoryBookingRepo) ListByCustomer(_ context.Context, customerID, status string) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.CustomerID == customerID && (status == "" || b.Status == status)
	}), nil
}

func (r *memoryBookingRepo) ListByProvider(_ context.Context, providerID, status string) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.ProviderID == providerID && (status == "" || b.Status == status)
	}), nil
}

func (r *memoryBookingRepo) ListRequestedExpired(_ context.Context, now time.Time) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.Status == models.BookingRequested && !now.Before(b.HoldExpiry)
	}), nil
}

func (r *memoryBookingRepo) ListConfirmedStarted(_ context.Context, now time.Time) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.Status == models.BookingConfirmed && !now.Before(b.Start)
	}), nil
}

func (r *memoryBookingRepo) filter(keep func(models.Booking) bool) []models.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
