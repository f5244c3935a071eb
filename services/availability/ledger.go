// Package availability owns the per-provider slot ledger: who holds which
// time range, and for how long.
package availability

import (
	"context"
	"errors"
	"time"

	availabilityRepo "servify/database/repository/availability"
	providerlockRepo "servify/database/repository/providerlock"
	"servify/domain"
	"servify/models"
	"servify/services/directory"
	"servify/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AvailabilityLedger answers slot-conflict queries and tracks committed time
// ranges per provider.
type AvailabilityLedger interface {
	// Hold provisionally reserves the slot for a booking. The hold lapses
	// after the configured TTL unless committed.
	Hold(ctx context.Context, providerID, bookingID string, slot models.TimeSlot) (*models.HoldToken, error)
	// Commit makes a held entry durable.
	Commit(ctx context.Context, entryID string) error
	// Release drops an entry by id; idempotent.
	Release(ctx context.Context, entryID string) error
	// ReleaseByBooking drops the entry owned by a booking; idempotent.
	ReleaseByBooking(ctx context.Context, bookingID string) error
	// Reslot atomically moves a committed entry to a new slot. On conflict
	// the old entry is left unchanged.
	Reslot(ctx context.Context, bookingID string, newSlot models.TimeSlot) (*models.HoldToken, error)
	// MarkHistorical retires a committed entry after completion, keeping the
	// record without blocking future bookings.
	MarkHistorical(ctx context.Context, bookingID string) error
	// ReclaimExpired removes lapsed holds and returns their booking ids.
	ReclaimExpired(ctx context.Context) ([]string, error)
}

// DefaultAvailabilityLedger is the production implementation.
type DefaultAvailabilityLedger struct {
	Repo      availabilityRepo.AvailabilityRepository
	Locks     providerlockRepo.LockRepository
	Directory directory.ProviderDirectory
	Clock     utils.Clock
	HoldTTL   time.Duration
	Log       *zap.Logger
}

// lockTTL bounds how long a crashed instance can pin a provider.
const lockTTL = 10 * time.Second

func (l *DefaultAvailabilityLedger) Hold(ctx context.Context, providerID, bookingID string, slot models.TimeSlot) (*models.HoldToken, error) {
	if !slot.Valid() {
		return nil, domain.ErrPolicyViolation
	}

	policy, err := l.Directory.PolicyFor(ctx, providerID)
	if err != nil {
		return nil, err
	}
	now := l.Clock.Now()
	if slot.Start.Before(now.Add(policy.MinNotice)) {
		return nil, domain.ErrPolicyViolation
	}
	if !policy.Allows(slot) {
		return nil, domain.ErrPolicyViolation
	}

	// Overlap checks for one provider must serialize; holds for other
	// providers proceed in parallel.
	if err := l.Locks.Acquire(ctx, providerID, lockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Locks.Release(ctx, providerID); err != nil {
			l.Log.Warn("Failed to release provider lock", zap.String("provider_id", providerID), zap.Error(err))
		}
	}()

	// Lazy reclaim before the conflict query so lapsed holds never block.
	if _, err := l.Repo.DeleteExpiredHolds(ctx, now); err != nil {
		return nil, err
	}

	conflicts, err := l.Repo.FindActiveOverlapping(ctx, providerID, slot.Start, slot.End, "", now)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, domain.ErrSlotConflict
	}

	entry := &models.AvailabilityEntry{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		BookingID:  bookingID,
		Slot:       slot,
		Status:     models.EntryHeld,
		ExpiresAt:  now.Add(l.HoldTTL),
		CreatedAt:  now,
	}
	if err := l.Repo.Insert(ctx, entry); err != nil {
		return nil, err
	}

	l.Log.Info("Slot held",
		zap.String("provider_id", providerID),
		zap.String("booking_id", bookingID),
		zap.Time("start", slot.Start),
		zap.Time("end", slot.End),
	)
	return &models.HoldToken{EntryID: entry.ID, ExpiresAt: entry.ExpiresAt}, nil
}

func (l *DefaultAvailabilityLedger) Commit(ctx context.Context, entryID string) error {
	entry, err := l.Repo.GetByID(ctx, entryID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrExpiredHold
	}
	if err != nil {
		return err
	}

	switch entry.Status {
	case models.EntryCommitted:
		return nil // already committed, commit is idempotent
	case models.EntryHeld:
		if !l.Clock.Now().Before(entry.ExpiresAt) {
			return domain.ErrExpiredHold
		}
	default:
		return domain.ErrExpiredHold
	}

	if err := l.Repo.UpdateStatus(ctx, entryID, models.EntryHeld, models.EntryCommitted); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrExpiredHold
		}
		return err
	}
	return nil
}

func (l *DefaultAvailabilityLedger) Release(ctx context.Context, entryID string) error {
	return l.Repo.Delete(ctx, entryID)
}

func (l *DefaultAvailabilityLedger) ReleaseByBooking(ctx context.Context, bookingID string) error {
	entry, err := l.Repo.GetByBookingID(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.Repo.Delete(ctx, entry.ID)
}

func (l *DefaultAvailabilityLedger) Reslot(ctx context.Context, bookingID string, newSlot models.TimeSlot) (*models.HoldToken, error) {
	if !newSlot.Valid() {
		return nil, domain.ErrPolicyViolation
	}

	entry, err := l.Repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	policy, err := l.Directory.PolicyFor(ctx, entry.ProviderID)
	if err != nil {
		return nil, err
	}
	now := l.Clock.Now()
	if newSlot.Start.Before(now.Add(policy.MinNotice)) {
		return nil, domain.ErrPolicyViolation
	}
	if !policy.Allows(newSlot) {
		return nil, domain.ErrPolicyViolation
	}

	if err := l.Locks.Acquire(ctx, entry.ProviderID, lockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Locks.Release(ctx, entry.ProviderID); err != nil {
			l.Log.Warn("Failed to release provider lock", zap.String("provider_id", entry.ProviderID), zap.Error(err))
		}
	}()

	conflicts, err := l.Repo.FindActiveOverlapping(ctx, entry.ProviderID, newSlot.Start, newSlot.End, entry.ID, now)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		// All-or-nothing: the committed entry stays on its old slot.
		return nil, domain.ErrSlotConflict
	}

	if err := l.Repo.UpdateSlot(ctx, entry.ID, newSlot); err != nil {
		return nil, err
	}

	l.Log.Info("Slot moved",
		zap.String("provider_id", entry.ProviderID),
		zap.String("booking_id", bookingID),
		zap.Time("start", newSlot.Start),
		zap.Time("end", newSlot.End),
	)
	return &models.HoldToken{EntryID: entry.ID}, nil
}

func (l *DefaultAvailabilityLedger) MarkHistorical(ctx context.Context, bookingID string) error {
	entry, err := l.Repo.GetByBookingID(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = l.Repo.UpdateStatus(ctx, entry.ID, models.EntryCommitted, models.EntryHistorical)
	if errors.Is(err, domain.ErrNotFound) {
		return nil // already historical
	}
	return err
}

func (l *DefaultAvailabilityLedger) ReclaimExpired(ctx context.Context) ([]string, error) {
	return l.Repo.DeleteExpiredHolds(ctx, l.Clock.Now())
}
