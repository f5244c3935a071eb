// Package payment owns the money side of a booking: the per-booking payment
// plan, obligation capture, refunds, and the prepaid credit ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	creditRepo "servify/database/repository/credit"
	paymentRepo "servify/database/repository/payment"
	"servify/domain"
	"servify/models"
	"servify/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentLedger drives a booking's payment plan through its lifecycle and
// keeps the credit balances consistent with it.
type PaymentLedger interface {
	// Authorize builds the plan for a requested booking. Credit plans place
	// a hold on the customer's balance; nothing is captured yet.
	Authorize(ctx context.Context, booking *models.Booking) (*models.PaymentPlan, error)
	// CaptureOrSchedule runs at confirmation: immediate and credit plans
	// capture now, deferred and installment plans stay scheduled.
	CaptureOrSchedule(ctx context.Context, bookingID string) error
	// CaptureDue pushes one pending obligation through the gateway. Safe to
	// call repeatedly; an already-captured obligation is a no-op.
	CaptureDue(ctx context.Context, planID string, seq int) error
	// Refund reverses up to the net captured amount. amount <= 0 means a
	// full refund. Requests beyond net captured fail without mutating.
	Refund(ctx context.Context, bookingID string, amount int64) error
	// Void releases the plan's authorization; held credits return to the
	// customer and pending obligations will never be captured.
	Void(ctx context.Context, bookingID string) error
	// AddPenalty appends a penalty obligation and captures it right away.
	// Gateway declines are logged, not surfaced: a cancellation must not
	// fail because the penalty card bounced.
	AddPenalty(ctx context.Context, bookingID string, amount int64) error
	// ShiftSchedule moves every pending due date by delta after a reschedule.
	ShiftSchedule(ctx context.Context, bookingID string, delta time.Duration) error

	PlanForBooking(ctx context.Context, bookingID string) (*models.PaymentPlan, error)
	Balance(ctx context.Context, customerID string) (*models.CreditBalance, error)
	Transactions(ctx context.Context, customerID string) ([]models.CreditTransaction, error)
	// PurchaseCredits charges price through the gateway and tops up the
	// balance by credits on success.
	PurchaseCredits(ctx context.Context, customerID string, credits, price int64) (*models.CreditBalance, error)
	// GrantBonus adds promotional credits without a charge.
	GrantBonus(ctx context.Context, customerID string, credits int64, description string) (*models.CreditBalance, error)
}

// DefaultPaymentLedger is the production implementation.
type DefaultPaymentLedger struct {
	Plans               paymentRepo.PaymentRepository
	Credits             creditRepo.CreditRepository
	Gateway             Gateway
	Clock               utils.Clock
	Log                 *zap.Logger
	InstallmentCount    int
	InstallmentInterval time.Duration
	Currency            string
}

func (l *DefaultPaymentLedger) Authorize(ctx context.Context, booking *models.Booking) (*models.PaymentPlan, error) {
	if booking.Total <= 0 {
		return nil, domain.ErrPolicyViolation
	}

	now := l.Clock.Now()
	var obligations []models.PaymentObligation

	switch booking.Method {
	case models.MethodImmediate, models.MethodCredit:
		// Due at the slot start, not now: the booking is still awaiting the
		// provider, and the sweep must not capture an unaccepted request.
		// CaptureOrSchedule pulls the due date forward at confirmation.
		obligations = []models.PaymentObligation{{
			Seq:    1,
			DueAt:  booking.Start,
			Amount: booking.Total,
			Status: models.ObligationPending,
		}}
	case models.MethodDeferred:
		obligations = []models.PaymentObligation{{
			Seq:    1,
			DueAt:  booking.Start,
			Amount: booking.Total,
			Status: models.ObligationPending,
		}}
	case models.MethodInstallment:
		parts := splitInstallments(booking.Total, l.InstallmentCount)
		for i, amount := range parts {
			obligations = append(obligations, models.PaymentObligation{
				Seq:    i + 1,
				DueAt:  booking.Start.Add(time.Duration(i) * l.InstallmentInterval),
				Amount: amount,
				Status: models.ObligationPending,
			})
		}
	default:
		return nil, domain.ErrPolicyViolation
	}

	if booking.Method == models.MethodCredit {
		// Move the full amount from available to held; fails fast when the
		// balance cannot cover the booking.
		if _, err := l.Credits.Adjust(ctx, booking.CustomerID, -booking.Total, booking.Total); err != nil {
			return nil, err
		}
	}

	plan := &models.PaymentPlan{
		ID:          uuid.New().String(),
		BookingID:   booking.ID,
		CustomerID:  booking.CustomerID,
		Method:      booking.Method,
		Total:       booking.Total,
		Version:     1,
		Obligations: obligations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.Plans.CreatePlan(ctx, plan); err != nil {
		if booking.Method == models.MethodCredit {
			if _, relErr := l.Credits.Adjust(ctx, booking.CustomerID, booking.Total, -booking.Total); relErr != nil {
				l.Log.Error("Failed to release credit hold after plan create failure",
					zap.String("customer_id", booking.CustomerID), zap.Error(relErr))
			}
		}
		return nil, err
	}

	l.Log.Info("Payment plan authorized",
		zap.String("booking_id", booking.ID),
		zap.String("method", plan.Method),
		zap.Int64("total", plan.Total),
		zap.Int("obligations", len(plan.Obligations)),
	)
	return plan, nil
}

// splitInstallments divides total into n parts in minor units. The remainder
// lands on the first part, so 1000 over 3 yields 334, 333, 333.
func splitInstallments(total int64, n int) []int64 {
	if n < 1 {
		n = 1
	}
	base := total / int64(n)
	rem := total % int64(n)
	parts := make([]int64, n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] += rem
	return parts
}

func (l *DefaultPaymentLedger) CaptureOrSchedule(ctx context.Context, bookingID string) error {
	plan, err := l.Plans.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	switch plan.Method {
	case models.MethodImmediate, models.MethodCredit:
		// Confirmation makes the single obligation due. The new due date
		// rides along on the capture flip, so a transient failure leaves it
		// pending and due for the sweep to retry.
		for i := range plan.Obligations {
			if plan.Obligations[i].Seq == 1 {
				plan.Obligations[i].DueAt = l.Clock.Now()
			}
		}
		return l.captureObligation(ctx, plan, 1)
	default:
		// Deferred and installment plans settle on their due dates.
		return nil
	}
}

func (l *DefaultPaymentLedger) CaptureDue(ctx context.Context, planID string, seq int) error {
	plan, err := l.Plans.GetPlanByID(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Voided {
		return nil
	}
	return l.captureObligation(ctx, plan, seq)
}

// captureObligation moves one obligation to captured. The flip is a CAS on
// (pending -> new status): if another worker got there first the repo reports
// domain.ErrNotFound and the attempt is treated as already settled.
func (l *DefaultPaymentLedger) captureObligation(ctx context.Context, plan *models.PaymentPlan, seq int) error {
	var target *models.PaymentObligation
	for i := range plan.Obligations {
		if plan.Obligations[i].Seq == seq {
			target = &plan.Obligations[i]
			break
		}
	}
	if target == nil {
		return domain.ErrNotFound
	}
	if target.Status != models.ObligationPending {
		return nil
	}
	if plan.NetCaptured()+target.Amount > plan.Total {
		l.Log.Error("Capture would exceed plan total, refusing",
			zap.String("plan_id", plan.ID), zap.Int("seq", seq))
		return domain.ErrNotAllowed
	}

	now := l.Clock.Now()

	if plan.Method == models.MethodCredit {
		return l.captureCredits(ctx, plan, target, now)
	}

	result, err := l.Gateway.Charge(ctx, ChargeRequest{
		BookingID:   plan.BookingID,
		CustomerID:  plan.CustomerID,
		Amount:      target.Amount,
		Currency:    l.Currency,
		Description: fmt.Sprintf("booking %s obligation %d", plan.BookingID, seq),
		Idempotency: fmt.Sprintf("%s-%d-%d", plan.ID, seq, target.Attempts),
	})
	if err != nil {
		// Treat transport failures like a transient gateway verdict.
		result = &ChargeResult{Outcome: OutcomeTransient, Reason: err.Error()}
	}

	switch result.Outcome {
	case OutcomeSucceeded:
		captured := *target
		captured.Status = models.ObligationCaptured
		captured.GatewayRef = result.Ref
		captured.CapturedAt = now
		if err := l.Plans.FlipObligation(ctx, plan.ID, seq, models.ObligationPending, captured); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil // lost the race to another worker
			}
			return err
		}
		l.Log.Info("Obligation captured",
			zap.String("booking_id", plan.BookingID),
			zap.Int("seq", seq),
			zap.Int64("amount", target.Amount),
		)
		return nil
	case OutcomeDeclined:
		failed := *target
		failed.Status = models.ObligationFailed
		failed.Attempts++
		if err := l.Plans.FlipObligation(ctx, plan.ID, seq, models.ObligationPending, failed); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		l.Log.Warn("Obligation declined",
			zap.String("booking_id", plan.BookingID),
			zap.Int("seq", seq),
			zap.String("reason", result.Reason),
		)
		return domain.ErrPaymentDeclined
	default:
		retried := *target
		retried.Attempts++
		if err := l.Plans.FlipObligation(ctx, plan.ID, seq, models.ObligationPending, retried); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		l.Log.Warn("Obligation capture hit a transient failure",
			zap.String("booking_id", plan.BookingID),
			zap.Int("seq", seq),
			zap.Int("attempts", retried.Attempts),
		)
		return domain.ErrPaymentTransient
	}
}

// captureCredits burns held credits for the obligation. Penalty obligations
// can land after the hold was released, so the available balance is the
// fallback source.
func (l *DefaultPaymentLedger) captureCredits(ctx context.Context, plan *models.PaymentPlan, target *models.PaymentObligation, now time.Time) error {
	bal, err := l.Credits.Adjust(ctx, plan.CustomerID, 0, -target.Amount)
	if errors.Is(err, domain.ErrInsufficientCredit) {
		bal, err = l.Credits.Adjust(ctx, plan.CustomerID, -target.Amount, 0)
	}
	if errors.Is(err, domain.ErrInsufficientCredit) {
		failed := *target
		failed.Status = models.ObligationFailed
		failed.Attempts++
		if flipErr := l.Plans.FlipObligation(ctx, plan.ID, target.Seq, models.ObligationPending, failed); flipErr != nil && !errors.Is(flipErr, domain.ErrNotFound) {
			return flipErr
		}
		return domain.ErrInsufficientCredit
	}
	if err != nil {
		return err
	}

	captured := *target
	captured.Status = models.ObligationCaptured
	captured.CapturedAt = now
	if err := l.Plans.FlipObligation(ctx, plan.ID, target.Seq, models.ObligationPending, captured); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lost the race; put the credits back.
			if _, relErr := l.Credits.Adjust(ctx, plan.CustomerID, target.Amount, 0); relErr != nil {
				l.Log.Error("Failed to restore credits after lost capture race",
					zap.String("customer_id", plan.CustomerID), zap.Error(relErr))
			}
			return nil
		}
		return err
	}

	return l.Credits.AppendTransaction(ctx, &models.CreditTransaction{
		ID:           uuid.New().String(),
		CustomerID:   plan.CustomerID,
		Amount:       -target.Amount,
		Type:         models.CreditUsed,
		BookingID:    plan.BookingID,
		Description:  "booking payment",
		BalanceAfter: bal.Available,
		CreatedAt:    now,
	})
}

func (l *DefaultPaymentLedger) Refund(ctx context.Context, bookingID string, amount int64) error {
	plan, err := l.Plans.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}

	net := plan.NetCaptured()
	if amount <= 0 {
		amount = net
	}
	if amount > net {
		return domain.ErrOverRefund
	}
	if amount == 0 {
		return nil
	}

	now := l.Clock.Now()

	// Spread the refund over captures newest-first, each capped at what its
	// charge still holds. net == sum of the per-obligation headroom, so the
	// whole amount always lands.
	type reversal struct {
		ref    string
		amount int64
	}
	var reversals []reversal
	remaining := amount
	for i := len(plan.Obligations) - 1; i >= 0 && remaining > 0; i-- {
		o := &plan.Obligations[i]
		if o.Status != models.ObligationCaptured {
			continue
		}
		headroom := o.Amount - o.RefundedAmount
		if headroom <= 0 {
			continue
		}
		portion := headroom
		if portion > remaining {
			portion = remaining
		}
		o.RefundedAmount += portion
		if o.RefundedAmount == o.Amount {
			o.Status = models.ObligationRefunded
		}
		if plan.Method != models.MethodCredit {
			reversals = append(reversals, reversal{ref: o.GatewayRef, amount: portion})
		}
		remaining -= portion
	}
	plan.Refunded += amount
	plan.UpdatedAt = now

	// The plan row is written before any money moves: a concurrent refund
	// loses the version race instead of paying the gateway twice.
	if err := l.Plans.UpdatePlan(ctx, plan); err != nil {
		return err
	}

	if plan.Method == models.MethodCredit {
		bal, err := l.Credits.Adjust(ctx, plan.CustomerID, amount, 0)
		if err != nil {
			return err
		}
		if err := l.Credits.AppendTransaction(ctx, &models.CreditTransaction{
			ID:           uuid.New().String(),
			CustomerID:   plan.CustomerID,
			Amount:       amount,
			Type:         models.CreditRefund,
			BookingID:    bookingID,
			Description:  "booking refund",
			BalanceAfter: bal.Available,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	} else {
		for _, rev := range reversals {
			if err := l.Gateway.Refund(ctx, rev.ref, rev.amount); err != nil {
				l.Log.Error("Gateway refund failed after ledger write",
					zap.String("booking_id", bookingID),
					zap.String("gateway_ref", rev.ref),
					zap.Int64("amount", rev.amount),
					zap.Error(err),
				)
				return err
			}
		}
	}

	l.Log.Info("Refund applied",
		zap.String("booking_id", bookingID),
		zap.Int64("amount", amount),
		zap.Int64("net_captured", plan.NetCaptured()),
	)
	return nil
}

func (l *DefaultPaymentLedger) Void(ctx context.Context, bookingID string) error {
	plan, err := l.Plans.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	if plan.Voided {
		return nil
	}

	if plan.Method == models.MethodCredit {
		if held := plan.Outstanding(); held > 0 {
			if _, err := l.Credits.Adjust(ctx, plan.CustomerID, held, -held); err != nil {
				return err
			}
		}
	}

	for i := range plan.Obligations {
		if plan.Obligations[i].Status == models.ObligationPending {
			plan.Obligations[i].Status = models.ObligationVoided
		}
	}
	plan.Voided = true
	plan.UpdatedAt = l.Clock.Now()
	if err := l.Plans.UpdatePlan(ctx, plan); err != nil {
		return err
	}
	l.Log.Info("Payment plan voided", zap.String("booking_id", bookingID))
	return nil
}

func (l *DefaultPaymentLedger) AddPenalty(ctx context.Context, bookingID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	plan, err := l.Plans.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}

	penalty := models.PaymentObligation{
		Seq:    len(plan.Obligations) + 1,
		DueAt:  l.Clock.Now(),
		Amount: amount,
		Status: models.ObligationPending,
	}
	plan.Obligations = append(plan.Obligations, penalty)
	// The penalty raises what the plan may legitimately capture. Re-arming a
	// voided plan is safe: Void already retired its old obligations.
	plan.Total += amount
	plan.Voided = false
	plan.UpdatedAt = l.Clock.Now()
	if err := l.Plans.UpdatePlan(ctx, plan); err != nil {
		return err
	}

	err = l.captureObligation(ctx, plan, penalty.Seq)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrPaymentDeclined), errors.Is(err, domain.ErrInsufficientCredit):
		l.Log.Warn("Penalty capture declined",
			zap.String("booking_id", bookingID), zap.Int64("amount", amount))
		return nil
	case errors.Is(err, domain.ErrPaymentTransient):
		// Still pending and past due; the settlement sweep retries it.
		return nil
	default:
		return err
	}
}

func (l *DefaultPaymentLedger) ShiftSchedule(ctx context.Context, bookingID string, delta time.Duration) error {
	if delta == 0 {
		return nil
	}
	plan, err := l.Plans.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	changed := false
	for i := range plan.Obligations {
		if plan.Obligations[i].Status == models.ObligationPending {
			plan.Obligations[i].DueAt = plan.Obligations[i].DueAt.Add(delta)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	plan.UpdatedAt = l.Clock.Now()
	return l.Plans.UpdatePlan(ctx, plan)
}

func (l *DefaultPaymentLedger) PlanForBooking(ctx context.Context, bookingID string) (*models.PaymentPlan, error) {
	return l.Plans.GetPlanByBookingID(ctx, bookingID)
}

func (l *DefaultPaymentLedger) Balance(ctx context.Context, customerID string) (*models.CreditBalance, error) {
	return l.Credits.GetBalance(ctx, customerID)
}

func (l *DefaultPaymentLedger) Transactions(ctx context.Context, customerID string) ([]models.CreditTransaction, error) {
	return l.Credits.ListTransactions(ctx, customerID)
}

func (l *DefaultPaymentLedger) PurchaseCredits(ctx context.Context, customerID string, credits, price int64) (*models.CreditBalance, error) {
	if credits <= 0 || price <= 0 {
		return nil, domain.ErrPolicyViolation
	}

	result, err := l.Gateway.Charge(ctx, ChargeRequest{
		CustomerID:  customerID,
		Amount:      price,
		Currency:    l.Currency,
		Description: fmt.Sprintf("purchase of %d credits", credits),
		Idempotency: uuid.New().String(),
	})
	if err != nil {
		return nil, domain.ErrPaymentTransient
	}
	switch result.Outcome {
	case OutcomeSucceeded:
	case OutcomeDeclined:
		return nil, domain.ErrPaymentDeclined
	default:
		return nil, domain.ErrPaymentTransient
	}

	bal, err := l.Credits.Adjust(ctx, customerID, credits, 0)
	if err != nil {
		return nil, err
	}
	if err := l.Credits.AppendTransaction(ctx, &models.CreditTransaction{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		Amount:       credits,
		Type:         models.CreditPurchase,
		Description:  "credit purchase",
		BalanceAfter: bal.Available,
		CreatedAt:    l.Clock.Now(),
	}); err != nil {
		return nil, err
	}

	l.Log.Info("Credits purchased",
		zap.String("customer_id", customerID),
		zap.Int64("credits", credits),
		zap.Int64("price", price),
	)
	return bal, nil
}

func (l *DefaultPaymentLedger) GrantBonus(ctx context.Context, customerID string, credits int64, description string) (*models.CreditBalance, error) {
	if credits <= 0 {
		return nil, domain.ErrPolicyViolation
	}
	bal, err := l.Credits.Adjust(ctx, customerID, credits, 0)
	if err != nil {
		return nil, err
	}
	if err := l.Credits.AppendTransaction(ctx, &models.CreditTransaction{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		Amount:       credits,
		Type:         models.CreditBonus,
		Description:  description,
		BalanceAfter: bal.Available,
		CreatedAt:    l.Clock.Now(),
	}); err != nil {
		return nil, err
	}
	return bal, nil
}
