package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	availabilityRepo "servify/database/repository/availability"
	bookingRepo "servify/database/repository/booking"
	creditRepo "servify/database/repository/credit"
	paymentRepo "servify/database/repository/payment"
	providerlockRepo "servify/database/repository/providerlock"
	"servify/domain"
	"servify/models"
	"servify/services/availability"
	"servify/services/directory"
	"servify/services/events"
	"servify/services/payment"
	"servify/utils"

	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu      sync.Mutex
	script  []string
	charges int
	refunds []int64
}

func (g *fakeGateway) Charge(_ context.Context, _ payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	outcome := payment.OutcomeSucceeded
	if len(g.script) > 0 {
		outcome = g.script[0]
		g.script = g.script[1:]
	}
	return &payment.ChargeResult{Outcome: outcome, Ref: fmt.Sprintf("pi_%d", g.charges)}, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amount)
	return nil
}

type harness struct {
	clock    *utils.FixedClock
	gateway  *fakeGateway
	recorder *events.Recorder
	bookings bookingRepo.BookingRepository
	slots    availabilityRepo.AvailabilityRepository
	payments *payment.DefaultPaymentLedger
	svc      *DefaultBookingService
}

func newHarness() *harness {
	clock := &utils.FixedClock{Current: baseTime}
	gateway := &fakeGateway{}
	recorder := events.NewRecorder()
	log := zap.NewNop()

	slotRepo := availabilityRepo.NewMemoryAvailabilityRepo()
	bookRepo := bookingRepo.NewMemoryBookingRepo()
	dir := &directory.StaticDirectory{Fallback: &models.ProviderPolicy{
		MinNotice:    time.Hour,
		CancelCutoff: 24 * time.Hour,
		PenaltyRate:  20,
	}}

	slotLedger := &availability.DefaultAvailabilityLedger{
		Repo:      slotRepo,
		Locks:     providerlockRepo.NewMemoryLockRepo(),
		Directory: dir,
		Clock:     clock,
		HoldTTL:   5 * time.Minute,
		Log:       log,
	}
	paymentLedger := &payment.DefaultPaymentLedger{
		Plans:               paymentRepo.NewMemoryPaymentRepo(),
		Credits:             creditRepo.NewMemoryCreditRepo(),
		Gateway:             gateway,
		Clock:               clock,
		Log:                 log,
		InstallmentCount:    3,
		InstallmentInterval: 30 * 24 * time.Hour,
		Currency:            "usd",
	}
	svc := &DefaultBookingService{
		Repo:      bookRepo,
		Slots:     slotLedger,
		Payments:  paymentLedger,
		Directory: dir,
		Events:    recorder,
		Clock:     clock,
		Log:       log,
	}
	return &harness{
		clock:    clock,
		gateway:  gateway,
		recorder: recorder,
		bookings: bookRepo,
		slots:    slotRepo,
		payments: paymentLedger,
		svc:      svc,
	}
}

func (h *harness) request(t *testing.T, method string, total int64, startOffset time.Duration) *models.Booking {
	t.Helper()
	start := h.clock.Now().Add(startOffset)
	b, err := h.svc.Request(context.Background(), &models.BookingRequest{
		CustomerID: "cust-1",
		ProviderID: "prov-1",
		ServiceID:  "svc-1",
		Start:      start,
		End:        start.Add(time.Hour),
		Method:     method,
		Total:      total,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return b
}

func (h *harness) forceOngoing(t *testing.T, bookingID string) {
	t.Helper()
	b, err := h.bookings.GetByID(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	b.Status = models.BookingOngoing
	if err := h.bookings.UpdateVersioned(context.Background(), b, b.Version); err != nil {
		t.Fatalf("force ongoing failed: %v", err)
	}
}

func TestRequestHoldsSlotAndAuthorizesPlan(t *testing.T) {
	h := newHarness()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)

	if b.Status != models.BookingRequested {
		t.Fatalf("status = %s", b.Status)
	}
	entry, err := h.slots.GetByBookingID(context.Background(), b.ID)
	if err != nil || entry.Status != models.EntryHeld {
		t.Fatalf("expected held entry, got %+v (%v)", entry, err)
	}
	plan, err := h.payments.PlanForBooking(context.Background(), b.ID)
	if err != nil || plan.Total != 1000 {
		t.Fatalf("expected plan, got %+v (%v)", plan, err)
	}
	if h.gateway.charges != 0 {
		t.Fatalf("request must not charge")
	}
	if got := h.recorder.ByType(models.EventBookingRequested); len(got) != 1 {
		t.Fatalf("expected 1 BookingRequested event, got %d", len(got))
	}
}

func TestAcceptConfirmsAndCaptures(t *testing.T) {
	h := newHarness()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)

	confirmed, err := h.svc.Respond(context.Background(), b.ID, true)
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if confirmed.Status != models.BookingConfirmed {
		t.Fatalf("status = %s", confirmed.Status)
	}
	entry, _ := h.slots.GetByBookingID(context.Background(), b.ID)
	if entry.Status != models.EntryCommitted {
		t.Fatalf("entry status = %s", entry.Status)
	}
	if h.gateway.charges != 1 {
		t.Fatalf("expected 1 charge, got %d", h.gateway.charges)
	}
	if got := h.recorder.ByType(models.EventPaymentCaptured); len(got) != 1 {
		t.Fatalf("expected 1 PaymentCaptured event, got %d", len(got))
	}
	if got := h.recorder.ByType(models.EventBookingConfirmed); len(got) != 1 {
		t.Fatalf("expected 1 BookingConfirmed event, got %d", len(got))
	}
}

func TestConcurrentRespondExactlyOneWins(t *testing.T) {
	h := newHarness()
	b := h.request(t, models.MethodDeferred, 1000, 48*time.Hour)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, accept := range []bool{true, false} {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			_, err := h.svc.Respond(context.Background(), b.ID, accept)
			results <- err
		}(accept)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, domain.ErrStaleState) &&
			!errors.Is(err, domain.ErrTerminalState) &&
			!errors.Is(err, domain.ErrNotAllowed) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	final, _ := h.bookings.GetByID(context.Background(), b.ID)
	entry, entryErr := h.slots.GetByBookingID(context.Background(), b.ID)
	switch final.Status {
	case models.BookingConfirmed:
		if entryErr != nil || entry.Status != models.EntryCommitted {
			t.Fatalf("confirmed booking without committed entry: %+v (%v)", entry, entryErr)
		}
	case models.BookingDeclined:
		if !errors.Is(entryErr, domain.ErrNotFound) {
			t.Fatalf("declined booking still holds entry: %+v", entry)
		}
	default:
		t.Fatalf("unexpected final status %s", final.Status)
	}
}

func TestRequestThenCancelLeavesCreditsUnchanged(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.payments.GrantBonus(ctx, "cust-1", 2000, "signup"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	b := h.request(t, models.MethodCredit, 800, 48*time.Hour)
	if _, err := h.svc.Cancel(ctx, b.ID, models.ActorCustomer); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	bal, _ := h.payments.Balance(ctx, "cust-1")
	if bal.Available != 2000 || bal.Held != 0 {
		t.Fatalf("credits changed by request+cancel: %+v", bal)
	}
}

func TestDeclineFreesSlotForNextRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b1 := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)

	overlapping := &models.BookingRequest{
		CustomerID: "cust-2",
		ProviderID: "prov-1",
		ServiceID:  "svc-1",
		Start:      b1.Start.Add(30 * time.Minute),
		End:        b1.End.Add(30 * time.Minute),
		Method:     models.MethodImmediate,
		Total:      1000,
	}
	if _, err := h.svc.Request(ctx, overlapping); !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	if _, err := h.svc.Respond(ctx, b1.ID, false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if _, err := h.svc.Request(ctx, overlapping); err != nil {
		t.Fatalf("request after decline failed: %v", err)
	}
}

func TestRespondAfterHoldExpiry(t *testing.T) {
	h := newHarness()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)

	h.clock.Advance(6 * time.Minute)

	if _, err := h.svc.Respond(context.Background(), b.ID, true); !errors.Is(err, domain.ErrExpiredHold) {
		t.Fatalf("expected ErrExpiredHold, got %v", err)
	}
}

func TestAcceptWithDeclinedCardUnwinds(t *testing.T) {
	h := newHarness()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)
	h.gateway.script = []string{payment.OutcomeDeclined}

	_, err := h.svc.Respond(context.Background(), b.ID, true)
	if !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}

	final, _ := h.bookings.GetByID(context.Background(), b.ID)
	if final.Status != models.BookingCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if _, err := h.slots.GetByBookingID(context.Background(), b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("entry not released after unwind")
	}
}

func TestFreeCancelRefundsInFull(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	// 48h out, cutoff is 24h: free cancellation.
	cancelled, err := h.svc.Cancel(ctx, b.ID, models.ActorCustomer)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.BookingCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	plan, _ := h.payments.PlanForBooking(ctx, b.ID)
	if plan.NetCaptured() != 0 {
		t.Fatalf("net captured after free cancel = %d", plan.NetCaptured())
	}
	if len(h.gateway.refunds) != 1 || h.gateway.refunds[0] != 1000 {
		t.Fatalf("gateway refunds = %v", h.gateway.refunds)
	}
}

func TestLateCancelRetainsPenalty(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	h.clock.Advance(46 * time.Hour) // 2h before start, inside the 24h cutoff

	if _, err := h.svc.Cancel(ctx, b.ID, models.ActorCustomer); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// 20% of 1000 stays with the provider.
	plan, _ := h.payments.PlanForBooking(ctx, b.ID)
	if plan.NetCaptured() != 200 {
		t.Fatalf("net captured = %d, want 200", plan.NetCaptured())
	}
	if len(h.gateway.refunds) != 1 || h.gateway.refunds[0] != 800 {
		t.Fatalf("gateway refunds = %v", h.gateway.refunds)
	}
}

func TestProviderCancelRefundsInFull(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodImmediate, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	h.clock.Advance(46 * time.Hour) // late, but provider-initiated

	if _, err := h.svc.Cancel(ctx, b.ID, models.ActorProvider); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	plan, _ := h.payments.PlanForBooking(ctx, b.ID)
	if plan.NetCaptured() != 0 {
		t.Fatalf("provider cancel kept %d", plan.NetCaptured())
	}
}

func TestRescheduleShiftsDueDates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	newStart := b.Start.Add(2 * time.Hour)
	moved, err := h.svc.Reschedule(ctx, b.ID, models.TimeSlot{Start: newStart, End: newStart.Add(time.Hour)})
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if !moved.Start.Equal(newStart) {
		t.Fatalf("start = %v", moved.Start)
	}

	plan, _ := h.payments.PlanForBooking(ctx, b.ID)
	if !plan.Obligations[0].DueAt.Equal(newStart) {
		t.Fatalf("due date not shifted: %v", plan.Obligations[0].DueAt)
	}
	if plan.Total != 1000 {
		t.Fatalf("reschedule changed total: %d", plan.Total)
	}
	entry, _ := h.slots.GetByBookingID(ctx, b.ID)
	if !entry.Slot.Start.Equal(newStart) {
		t.Fatalf("entry not moved: %v", entry.Slot.Start)
	}
}

func TestRescheduleConflictKeepsBooking(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b1 := h.request(t, models.MethodDeferred, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b1.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	b2 := h.request(t, models.MethodDeferred, 1000, 52*time.Hour)
	if _, err := h.svc.Respond(ctx, b2.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}

	_, err := h.svc.Reschedule(ctx, b2.ID, models.TimeSlot{Start: b1.Start, End: b1.End})
	if !errors.Is(err, domain.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	unchanged, _ := h.bookings.GetByID(ctx, b2.ID)
	if !unchanged.Start.Equal(b2.Start) {
		t.Fatalf("conflicting reschedule moved booking to %v", unchanged.Start)
	}
}

func TestCompleteCapturesRemaining(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 1000, 48*time.Hour)
	if _, err := h.svc.Respond(ctx, b.ID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	h.forceOngoing(t, b.ID)

	done, err := h.svc.Complete(ctx, b.ID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != models.BookingCompleted {
		t.Fatalf("status = %s", done.Status)
	}

	plan, _ := h.payments.PlanForBooking(ctx, b.ID)
	if plan.NetCaptured() != 1000 {
		t.Fatalf("net captured = %d", plan.NetCaptured())
	}
	entry, _ := h.slots.GetByBookingID(ctx, b.ID)
	if entry.Status != models.EntryHistorical {
		t.Fatalf("entry status = %s", entry.Status)
	}

	// Terminal states refuse further transitions.
	if _, err := h.svc.Cancel(ctx, b.ID, models.ActorCustomer); !errors.Is(err, domain.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}
