package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	availabilityRepo "servify/database/repository/availability"
	providerlockRepo "servify/database/repository/providerlock"
	"servify/domain"
	"servify/models"
	"servify/services/directory"
	"servify/utils"

	"go.uber.org/zap"
)

// Monday 09:00 UTC.
var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestLedger(policy *models.ProviderPolicy) (*DefaultAvailabilityLedger, *utils.FixedClock, availabilityRepo.AvailabilityRepository) {
	if policy == nil {
		policy = &models.ProviderPolicy{MinNotice: time.Hour}
	}
	clock := &utils.FixedClock{Current: baseTime}
	repo := availabilityRepo.NewMemoryAvailabilityRepo()
	ledger := &DefaultAvailabilityLedger{
		Repo:      repo,
		Locks:     providerlockRepo.NewMemoryLockRepo(),
		Directory: &directory.StaticDirectory{Fallback: policy},
		Clock:     clock,
		HoldTTL:   5 * time.Minute,
		Log:       zap.NewNop(),
	}
	return ledger, clock, repo
}

func slotAt(startHour, startMin, durationMin int) models.TimeSlot {
	start := time.Date(2025, 3, 10, startHour, startMin, 0, 0, time.UTC)
	return models.TimeSlot{Start: start, End: start.Add(time.Duration(durationMin) * time.Minute)}
}

func TestHoldRejectsOverlap(t *testing.T) {
	ledger, _, _ := newTestLedger(nil)
	ctx := context.Background()

	if _, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60)); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}

	_, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(12, 30, 60))
	if !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// Touching slots do not conflict.
	if _, err := ledger.Hold(ctx, "prov-1", "b3", slotAt(13, 0, 60)); err != nil {
		t.Fatalf("adjacent hold failed: %v", err)
	}

	// A different provider is unaffected.
	if _, err := ledger.Hold(ctx, "prov-2", "b4", slotAt(12, 30, 60)); err != nil {
		t.Fatalf("other-provider hold failed: %v", err)
	}
}

func TestHoldEnforcesMinimumNotice(t *testing.T) {
	ledger, _, _ := newTestLedger(nil)

	// Starts 30 minutes out, policy requires an hour.
	_, err := ledger.Hold(context.Background(), "prov-1", "b1", slotAt(9, 30, 60))
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestHoldEnforcesWorkingHours(t *testing.T) {
	policy := &models.ProviderPolicy{
		Hours: []models.WorkingHours{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}
	ledger, _, _ := newTestLedger(policy)
	ctx := context.Background()

	if _, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60)); err != nil {
		t.Fatalf("in-hours hold failed: %v", err)
	}
	_, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(18, 0, 60))
	if !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation for after-hours slot, got %v", err)
	}
}

func TestHoldRejectsInvertedSlot(t *testing.T) {
	ledger, _, _ := newTestLedger(nil)
	slot := models.TimeSlot{Start: baseTime.Add(3 * time.Hour), End: baseTime.Add(2 * time.Hour)}
	if _, err := ledger.Hold(context.Background(), "prov-1", "b1", slot); !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestExpiredHoldStopsBlocking(t *testing.T) {
	ledger, clock, _ := newTestLedger(nil)
	ctx := context.Background()

	token, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60))
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	clock.Advance(6 * time.Minute) // past the 5 minute TTL

	if _, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(12, 0, 60)); err != nil {
		t.Fatalf("hold after expiry failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); !errors.Is(err, domain.ErrExpiredHold) {
		t.Fatalf("expected ErrExpiredHold on commit, got %v", err)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	ledger, _, _ := newTestLedger(nil)
	ctx := context.Background()

	token, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60))
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); err != nil {
		t.Fatalf("repeat commit should be a no-op, got %v", err)
	}
}

func TestCommittedEntryBlocksAfterHoldTTL(t *testing.T) {
	ledger, clock, _ := newTestLedger(nil)
	ctx := context.Background()

	token, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60))
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	clock.Advance(time.Hour)

	if _, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(12, 0, 60)); !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict against committed entry, got %v", err)
	}
}

func TestReslotConflictKeepsOldSlot(t *testing.T) {
	ledger, _, repo := newTestLedger(nil)
	ctx := context.Background()

	t1, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60))
	if err != nil {
		t.Fatalf("hold b1 failed: %v", err)
	}
	if err := ledger.Commit(ctx, t1.EntryID); err != nil {
		t.Fatalf("commit b1 failed: %v", err)
	}
	t2, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(14, 0, 60))
	if err != nil {
		t.Fatalf("hold b2 failed: %v", err)
	}
	if err := ledger.Commit(ctx, t2.EntryID); err != nil {
		t.Fatalf("commit b2 failed: %v", err)
	}

	// Moving b2 onto b1's slot must fail and leave b2 where it was.
	if _, err := ledger.Reslot(ctx, "b2", slotAt(12, 30, 60)); !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	entry, err := repo.GetByBookingID(ctx, "b2")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !entry.Slot.Start.Equal(slotAt(14, 0, 60).Start) {
		t.Fatalf("slot moved despite conflict: %v", entry.Slot.Start)
	}

	// A free target works, and reusing a booking's own range stays legal.
	if _, err := ledger.Reslot(ctx, "b2", slotAt(15, 0, 60)); err != nil {
		t.Fatalf("reslot to free slot failed: %v", err)
	}
	if _, err := ledger.Reslot(ctx, "b2", slotAt(15, 30, 60)); err != nil {
		t.Fatalf("reslot overlapping own entry failed: %v", err)
	}
}

func TestMarkHistoricalFreesSlot(t *testing.T) {
	ledger, _, _ := newTestLedger(nil)
	ctx := context.Background()

	token, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60))
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := ledger.MarkHistorical(ctx, "b1"); err != nil {
		t.Fatalf("mark historical failed: %v", err)
	}
	// Retiring twice is a no-op.
	if err := ledger.MarkHistorical(ctx, "b1"); err != nil {
		t.Fatalf("repeat mark historical failed: %v", err)
	}

	if _, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(12, 0, 60)); err != nil {
		t.Fatalf("historical entry should not block: %v", err)
	}
}

func TestReclaimExpiredReturnsBookingIDs(t *testing.T) {
	ledger, clock, _ := newTestLedger(nil)
	ctx := context.Background()

	if _, err := ledger.Hold(ctx, "prov-1", "b1", slotAt(12, 0, 60)); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	token, err := ledger.Hold(ctx, "prov-1", "b2", slotAt(14, 0, 60))
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if err := ledger.Commit(ctx, token.EntryID); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	clock.Advance(10 * time.Minute)

	reclaimed, err := ledger.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "b1" {
		t.Fatalf("expected [b1], got %v", reclaimed)
	}

	again, err := ledger.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("second reclaim failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("reclaim not idempotent: %v", again)
	}
}
