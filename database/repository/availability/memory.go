// File: database/repository/availability/memory.go
package availabilityRepo

import (
	"context"
	"sync"
	"time"

	"servify/domain"
	"servify/models"
)

// memoryAvailabilityRepo is the in-process AvailabilityRepository used by the
// engine tests and local development.
type memoryAvailabilityRepo struct {
	mu      sync.Mutex
	entries map[string]models.AvailabilityEntry
}

// NewMemoryAvailabilityRepo constructs an in-memory AvailabilityRepository.
func NewMemoryAvailabilityRepo() AvailabilityRepository {
	return &memoryAvailabilityRepo{entries: make(map[string]models.AvailabilityEntry)}
}

func (r *memoryAvailabilityRepo) Insert(_ context.Context, entry *models.AvailabilityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = *entry
	return nil
}

func (r *memoryAvailabilityRepo) GetByID(_ context.Context, id string) (*models.AvailabilityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *memoryAvailabilityRepo) GetByBookingID(_ context.Context, bookingID string) (*models.AvailabilityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.BookingID == bookingID {
			out := e
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryAvailabilityRepo) FindActiveOverlapping(_ context.Context, providerID string, start, end time.Time, excludeID string, now time.Time) ([]models.AvailabilityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	probe := models.TimeSlot{Start: start, End: end}
	var out []models.AvailabilityEntry
	for _, e := range r.entries {
		if e.ProviderID != providerID || e.ID == excludeID {
			continue
		}
		if !e.Active(now) {
			continue
		}
		if e.Slot.Overlaps(probe) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryAvailabilityRepo) UpdateStatus(_ context.Context, id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return domain.ErrNotFound
	}
	e.Status = to
	r.entries[id] = e
	return nil
}

func (r *memoryAvailabilityRepo) UpdateSlot(_ context.Context, id string, slot models.TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Slot = slot
	r.entries[id] = e
	return nil
}

func (r *memoryAvailabilityRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

func (r *memoryAvailabilityRepo) DeleteExpiredHolds(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var bookingIDs []string
	for id, e := range r.entries {
		if e.Status == models.EntryHeld && !now.Before(e.ExpiresAt) {
			bookingIDs = append(bookingIDs, e.BookingID)
			delete(r.entries, id)
		}
	}
	return bookingIDs, nil
}
