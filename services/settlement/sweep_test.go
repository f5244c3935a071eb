package settlement

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
	"servify/services/booking"
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
	refunds int
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

func (g *fakeGateway) Refund(_ context.Context, _ string, _ int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds++
	return nil
}

type harness struct {
	clock    *utils.FixedClock
	gateway  *fakeGateway
	recorder *events.Recorder
	bookings bookingRepo.BookingRepository
	plans    paymentRepo.PaymentRepository
	payments *payment.DefaultPaymentLedger
	svc      *booking.DefaultBookingService
	sweeper  *DefaultSweeper
}

func newHarness() *harness {
	clock := &utils.FixedClock{Current: baseTime}
	gateway := &fakeGateway{}
	recorder := events.NewRecorder()
	log := zap.NewNop()

	slotRepo := availabilityRepo.NewMemoryAvailabilityRepo()
	bookRepo := bookingRepo.NewMemoryBookingRepo()
	planRepo := paymentRepo.NewMemoryPaymentRepo()
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
		Plans:               planRepo,
		Credits:             creditRepo.NewMemoryCreditRepo(),
		Gateway:             gateway,
		Clock:               clock,
		Log:                 log,
		InstallmentCount:    3,
		InstallmentInterval: 30 * 24 * time.Hour,
		Currency:            "usd",
	}
	svc := &booking.DefaultBookingService{
		Repo:      bookRepo,
		Slots:     slotLedger,
		Payments:  paymentLedger,
		Directory: dir,
		Events:    recorder,
		Clock:     clock,
		Log:       log,
	}
	sweeper := &DefaultSweeper{
		Bookings:    bookRepo,
		BookingSvc:  svc,
		Plans:       planRepo,
		Payments:    paymentLedger,
		Slots:       slotLedger,
		Events:      recorder,
		Clock:       clock,
		Log:         log,
		MaxAttempts: 3,
		Grace:       48 * time.Hour,
	}
	return &harness{
		clock:    clock,
		gateway:  gateway,
		recorder: recorder,
		bookings: bookRepo,
		plans:    planRepo,
		payments: paymentLedger,
		svc:      svc,
		sweeper:  sweeper,
	}
}

func (h *harness) request(t *testing.T, method string, startOffset time.Duration) *models.Booking {
	t.Helper()
	start := h.clock.Now().Add(startOffset)
	b, err := h.svc.Request(context.Background(), &models.BookingRequest{
		CustomerID: "cust-1",
		ProviderID: "prov-1",
		ServiceID:  "svc-1",
		Start:      start,
		End:        start.Add(time.Hour),
		Method:     method,
		Total:      1000,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return b
}

func (h *harness) confirm(t *testing.T, bookingID string) {
	t.Helper()
	if _, err := h.svc.Respond(context.Background(), bookingID, true); err != nil {
		t.Fatalf("respond failed: %v", err)
	}
}

func TestSweepExpiresLapsedRequests(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 48*time.Hour)

	h.clock.Advance(10 * time.Minute) // past the 5 minute hold TTL

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.BookingsExpired != 1 {
		t.Fatalf("expired = %d, want 1", report.BookingsExpired)
	}

	final, _ := h.bookings.GetByID(ctx, b.ID)
	if final.Status != models.BookingExpired {
		t.Fatalf("status = %s", final.Status)
	}
	plan, _ := h.plans.GetPlanByBookingID(ctx, b.ID)
	if !plan.Voided {
		t.Fatalf("plan of expired booking not voided")
	}
	if got := h.recorder.ByType(models.EventBookingExpired); len(got) != 1 {
		t.Fatalf("expected 1 BookingExpired event, got %d", len(got))
	}

	// Re-running changes nothing.
	report, err = h.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if report.BookingsExpired != 0 {
		t.Fatalf("second sweep expired %d bookings", report.BookingsExpired)
	}
}

func TestSweepCapturesDeferredExactlyOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 48*time.Hour)
	h.confirm(t, b.ID)

	h.clock.Advance(49 * time.Hour) // past the due date (slot start)

	for i := 0; i < 3; i++ {
		if _, err := h.sweeper.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}

	if h.gateway.charges != 1 {
		t.Fatalf("deferred obligation charged %d times", h.gateway.charges)
	}
	plan, _ := h.plans.GetPlanByBookingID(ctx, b.ID)
	if plan.Obligations[0].Status != models.ObligationCaptured {
		t.Fatalf("obligation status = %s", plan.Obligations[0].Status)
	}
	if got := h.recorder.ByType(models.EventPaymentCaptured); len(got) != 1 {
		t.Fatalf("expected 1 PaymentCaptured event, got %d", len(got))
	}
}

func TestSweepStartsConfirmedBookings(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodImmediate, 2*time.Hour)
	h.confirm(t, b.ID)

	h.clock.Advance(3 * time.Hour)

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Started != 1 {
		t.Fatalf("started = %d", report.Started)
	}
	final, _ := h.bookings.GetByID(ctx, b.ID)
	if final.Status != models.BookingOngoing {
		t.Fatalf("status = %s", final.Status)
	}
	if got := h.recorder.ByType(models.EventBookingStarted); len(got) != 1 {
		t.Fatalf("expected 1 BookingStarted event, got %d", len(got))
	}

	report, _ = h.sweeper.Sweep(ctx)
	if report.Started != 0 {
		t.Fatalf("second sweep started %d bookings", report.Started)
	}
}

func TestSweepRetriesTransientUpToLimit(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 48*time.Hour)
	h.confirm(t, b.ID)

	// Every attempt hits a transient failure.
	h.gateway.script = []string{
		payment.OutcomeTransient, payment.OutcomeTransient, payment.OutcomeTransient,
		payment.OutcomeTransient, payment.OutcomeTransient,
	}
	h.clock.Advance(49 * time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := h.sweeper.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}

	// Three attempts, then the obligation is written off as failed.
	if h.gateway.charges != 3 {
		t.Fatalf("gateway charged %d times, want 3", h.gateway.charges)
	}
	plan, _ := h.plans.GetPlanByBookingID(ctx, b.ID)
	if plan.Obligations[0].Status != models.ObligationFailed {
		t.Fatalf("obligation status = %s", plan.Obligations[0].Status)
	}
}

func TestSweepForceCancelsAfterGrace(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodDeferred, 48*time.Hour)
	h.confirm(t, b.ID)

	h.gateway.script = []string{payment.OutcomeDeclined}
	h.clock.Advance(49 * time.Hour)

	// The decline marks the obligation failed; the booking survives for now.
	if _, err := h.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	mid, _ := h.bookings.GetByID(ctx, b.ID)
	if mid.Status == models.BookingCancelled {
		t.Fatalf("booking cancelled before grace elapsed")
	}

	h.clock.Advance(49 * time.Hour) // past the 48h grace window

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.ForceCancelled != 1 {
		t.Fatalf("force_cancelled = %d", report.ForceCancelled)
	}
	final, _ := h.bookings.GetByID(ctx, b.ID)
	if final.Status != models.BookingCancelled {
		t.Fatalf("status = %s", final.Status)
	}

	// Idempotent: the booking is terminal now.
	report, _ = h.sweeper.Sweep(ctx)
	if report.ForceCancelled != 0 {
		t.Fatalf("second sweep force-cancelled %d", report.ForceCancelled)
	}
}

func TestSweepDoesNotChargeUnacceptedBooking(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodImmediate, 48*time.Hour)

	// A sweep lands between the request and the provider's response.
	if _, err := h.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if h.gateway.charges != 0 {
		t.Fatalf("sweep charged %d times for a requested booking", h.gateway.charges)
	}
	cur, _ := h.bookings.GetByID(ctx, b.ID)
	if cur.Status != models.BookingRequested {
		t.Fatalf("status = %s, want requested", cur.Status)
	}
	plan, _ := h.plans.GetPlanByBookingID(ctx, b.ID)
	if plan.Obligations[0].Status != models.ObligationPending {
		t.Fatalf("obligation status = %s", plan.Obligations[0].Status)
	}

	// The decline then unwinds with no money ever moved.
	if _, err := h.svc.Respond(ctx, b.ID, false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if h.gateway.charges != 0 {
		t.Fatalf("decline path charged the gateway %d times", h.gateway.charges)
	}
	plan, _ = h.plans.GetPlanByBookingID(ctx, b.ID)
	if !plan.Voided {
		t.Fatalf("declined booking's plan not voided")
	}
}

func TestSweepLeavesCreditHoldUntouchedBeforeResponse(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.payments.GrantBonus(ctx, "cust-1", 2000, "signup"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	b := h.request(t, models.MethodCredit, 48*time.Hour)

	if _, err := h.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	bal, _ := h.payments.Balance(ctx, "cust-1")
	if bal.Available != 1000 || bal.Held != 1000 {
		t.Fatalf("sweep moved credits: available=%d held=%d", bal.Available, bal.Held)
	}

	if _, err := h.svc.Respond(ctx, b.ID, false); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	bal, _ = h.payments.Balance(ctx, "cust-1")
	if bal.Available != 2000 || bal.Held != 0 {
		t.Fatalf("decline did not restore credits: available=%d held=%d", bal.Available, bal.Held)
	}
}

func TestTransientExhaustionEndsInGraceCancellation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b := h.request(t, models.MethodInstallment, 48*time.Hour)
	h.confirm(t, b.ID)

	// First installment settles once the slot starts.
	h.clock.Advance(49 * time.Hour)
	if _, err := h.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	plan, _ := h.plans.GetPlanByBookingID(ctx, b.ID)
	if plan.Obligations[0].Status != models.ObligationCaptured {
		t.Fatalf("first installment = %s", plan.Obligations[0].Status)
	}

	// The second installment never gets through the gateway.
	h.gateway.script = []string{
		payment.OutcomeTransient, payment.OutcomeTransient, payment.OutcomeTransient,
	}
	h.clock.Advance(30 * 24 * time.Hour)
	for i := 0; i < 4; i++ {
		if _, err := h.sweeper.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}
	plan, _ = h.plans.GetPlanByBookingID(ctx, b.ID)
	if plan.Obligations[1].Status != models.ObligationFailed {
		t.Fatalf("second installment = %s after retry budget", plan.Obligations[1].Status)
	}
	mid, _ := h.bookings.GetByID(ctx, b.ID)
	if mid.Status == models.BookingCancelled {
		t.Fatalf("booking cancelled before grace elapsed")
	}

	// Grace passes; the booking is force-cancelled and the first
	// installment stays captured.
	h.clock.Advance(49 * time.Hour)
	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.ForceCancelled != 1 {
		t.Fatalf("force_cancelled = %d", report.ForceCancelled)
	}
	final, _ := h.bookings.GetByID(ctx, b.ID)
	if final.Status != models.BookingCancelled {
		t.Fatalf("status = %s", final.Status)
	}

	plan, _ = h.plans.GetPlanByBookingID(ctx, b.ID)
	if !plan.Voided {
		t.Fatalf("plan not voided after forced cancellation")
	}
	if plan.Obligations[0].Status != models.ObligationCaptured {
		t.Fatalf("captured installment was disturbed: %s", plan.Obligations[0].Status)
	}
	if plan.Obligations[2].Status != models.ObligationVoided {
		t.Fatalf("third installment = %s, want voided", plan.Obligations[2].Status)
	}
	if plan.Refunded != 0 || h.gateway.refunds != 0 {
		t.Fatalf("forced cancellation moved money back: refunded=%d gateway_refunds=%d",
			plan.Refunded, h.gateway.refunds)
	}
	if plan.NetCaptured() != 334 {
		t.Fatalf("net captured = %d, want 334", plan.NetCaptured())
	}
}

func TestSweepReclaimsHoldBeforeNewRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	b1 := h.request(t, models.MethodImmediate, 48*time.Hour)

	h.clock.Advance(10 * time.Minute)
	if _, err := h.sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	// The lapsed hold no longer blocks the slot.
	second := &models.BookingRequest{
		CustomerID: "cust-2",
		ProviderID: "prov-1",
		ServiceID:  "svc-1",
		Start:      b1.Start,
		End:        b1.End,
		Method:     models.MethodImmediate,
		Total:      1000,
	}
	if _, err := h.svc.Request(ctx, second); err != nil {
		t.Fatalf("request on reclaimed slot failed: %v", err)
	}

	// The expired booking cannot be revived.
	if _, err := h.svc.Respond(ctx, b1.ID, true); !errors.Is(err, domain.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}
