// Package booking implements the reservation state machine. Every transition
// is a version-guarded write on the booking row; losing a race surfaces as
// domain.ErrStaleState and the caller retries or gives up.
package booking

import (
	"context"
	"errors"
	"strconv"
	"time"

	bookingRepo "servify/database/repository/booking"
	"servify/domain"
	"servify/models"
	"servify/services/availability"
	"servify/services/directory"
	"servify/services/events"
	"servify/services/payment"
	"servify/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingService drives bookings through request, respond, reschedule,
// cancel, and complete.
type BookingService interface {
	Request(ctx context.Context, req *models.BookingRequest) (*models.Booking, error)
	// Respond resolves a requested booking. Exactly one of two concurrent
	// responses wins; the loser gets domain.ErrStaleState.
	Respond(ctx context.Context, bookingID string, accept bool) (*models.Booking, error)
	Reschedule(ctx context.Context, bookingID string, newSlot models.TimeSlot) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, actor string) (*models.Booking, error)
	Complete(ctx context.Context, bookingID string) (*models.Booking, error)

	GetByID(ctx context.Context, id string) (*models.Booking, error)
	ListForCustomer(ctx context.Context, customerID, status string) ([]models.Booking, error)
	ListForProvider(ctx context.Context, providerID, status string) ([]models.Booking, error)
}

// DefaultBookingService is the production implementation.
type DefaultBookingService struct {
	Repo      bookingRepo.BookingRepository
	Slots     availability.AvailabilityLedger
	Payments  payment.PaymentLedger
	Directory directory.ProviderDirectory
	Events    events.Dispatcher
	Clock     utils.Clock
	Log       *zap.Logger
}

func validMethod(m string) bool {
	switch m {
	case models.MethodImmediate, models.MethodDeferred, models.MethodInstallment, models.MethodCredit:
		return true
	}
	return false
}

func (s *DefaultBookingService) Request(ctx context.Context, req *models.BookingRequest) (*models.Booking, error) {
	if !validMethod(req.Method) || req.Total <= 0 {
		return nil, domain.ErrPolicyViolation
	}
	slot := models.TimeSlot{Start: req.Start, End: req.End}

	now := s.Clock.Now()
	booking := &models.Booking{
		ID:         uuid.New().String(),
		CustomerID: req.CustomerID,
		ProviderID: req.ProviderID,
		ServiceID:  req.ServiceID,
		Start:      req.Start,
		End:        req.End,
		Status:     models.BookingRequested,
		Method:     req.Method,
		Total:      req.Total,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	token, err := s.Slots.Hold(ctx, req.ProviderID, booking.ID, slot)
	if err != nil {
		return nil, err
	}
	booking.EntryID = token.EntryID
	booking.HoldExpiry = token.ExpiresAt

	if _, err := s.Payments.Authorize(ctx, booking); err != nil {
		s.releaseQuietly(ctx, booking)
		return nil, err
	}

	if err := s.Repo.Create(ctx, booking); err != nil {
		if voidErr := s.Payments.Void(ctx, booking.ID); voidErr != nil {
			s.Log.Error("Failed to void plan after booking create failure",
				zap.String("booking_id", booking.ID), zap.Error(voidErr))
		}
		s.releaseQuietly(ctx, booking)
		return nil, err
	}

	s.publish(ctx, models.EventBookingRequested, booking, nil)
	s.Log.Info("Booking requested",
		zap.String("booking_id", booking.ID),
		zap.String("provider_id", booking.ProviderID),
		zap.String("method", booking.Method),
	)
	return booking, nil
}

func (s *DefaultBookingService) Respond(ctx context.Context, bookingID string, accept bool) (*models.Booking, error) {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingRequested {
		if b.Terminal() {
			return nil, domain.ErrTerminalState
		}
		return nil, domain.ErrNotAllowed
	}
	now := s.Clock.Now()
	if !now.Before(b.HoldExpiry) {
		return nil, domain.ErrExpiredHold
	}

	if !accept {
		return s.decline(ctx, b)
	}

	// Win the race on the booking row first; side effects follow the winner.
	expected := b.Version
	b.Status = models.BookingConfirmed
	b.UpdatedAt = now
	if err := s.Repo.UpdateVersioned(ctx, b, expected); err != nil {
		return nil, err
	}

	if err := s.Slots.Commit(ctx, b.EntryID); err != nil {
		if errors.Is(err, domain.ErrExpiredHold) {
			// Hold lapsed between the check and the commit. Roll forward to
			// expired; the slot is already reclaimable.
			s.transitionTo(ctx, b, models.BookingExpired)
			s.voidQuietly(ctx, b)
			s.publish(ctx, models.EventBookingExpired, b, nil)
			return nil, domain.ErrExpiredHold
		}
		return nil, err
	}

	if err := s.Payments.CaptureOrSchedule(ctx, b.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentDeclined), errors.Is(err, domain.ErrInsufficientCredit):
			// Funds did not move; unwind the confirmation.
			s.transitionTo(ctx, b, models.BookingCancelled)
			s.releaseQuietly(ctx, b)
			s.voidQuietly(ctx, b)
			s.publish(ctx, models.EventPaymentFailed, b, nil)
			s.publish(ctx, models.EventBookingCancelled, b, map[string]string{"reason": "payment_declined"})
			return nil, err
		case errors.Is(err, domain.ErrPaymentTransient):
			// Confirmation stands; the obligation is due now and the sweep
			// retries the capture.
			s.Log.Warn("Capture deferred to sweep after transient failure",
				zap.String("booking_id", b.ID))
		default:
			return nil, err
		}
	} else {
		switch b.Method {
		case models.MethodImmediate, models.MethodCredit:
			s.publish(ctx, models.EventPaymentCaptured, b, map[string]string{
				"amount": strconv.FormatInt(b.Total, 10),
			})
		}
	}

	s.publish(ctx, models.EventBookingConfirmed, b, nil)
	s.Log.Info("Booking confirmed", zap.String("booking_id", b.ID))
	return b, nil
}

func (s *DefaultBookingService) decline(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	expected := b.Version
	b.Status = models.BookingDeclined
	b.UpdatedAt = s.Clock.Now()
	if err := s.Repo.UpdateVersioned(ctx, b, expected); err != nil {
		return nil, err
	}

	s.releaseQuietly(ctx, b)
	s.voidQuietly(ctx, b)

	s.publish(ctx, models.EventBookingDeclined, b, nil)
	s.Log.Info("Booking declined", zap.String("booking_id", b.ID))
	return b, nil
}

func (s *DefaultBookingService) Reschedule(ctx context.Context, bookingID string, newSlot models.TimeSlot) (*models.Booking, error) {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed {
		if b.Terminal() {
			return nil, domain.ErrTerminalState
		}
		return nil, domain.ErrNotAllowed
	}

	oldSlot := models.TimeSlot{Start: b.Start, End: b.End}
	if _, err := s.Slots.Reslot(ctx, bookingID, newSlot); err != nil {
		return nil, err
	}

	delta := newSlot.Start.Sub(b.Start)
	expected := b.Version
	b.Start = newSlot.Start
	b.End = newSlot.End
	b.UpdatedAt = s.Clock.Now()
	if err := s.Repo.UpdateVersioned(ctx, b, expected); err != nil {
		// Another transition won; put the ledger entry back on the old slot.
		if _, backErr := s.Slots.Reslot(ctx, bookingID, oldSlot); backErr != nil {
			s.Log.Error("Failed to restore slot after lost reschedule race",
				zap.String("booking_id", bookingID), zap.Error(backErr))
		}
		return nil, err
	}

	// Due dates anchored to the old start shift with it; totals never change.
	if err := s.Payments.ShiftSchedule(ctx, bookingID, delta); err != nil {
		return nil, err
	}

	s.publish(ctx, models.EventBookingRescheduled, b, map[string]string{
		"start": b.Start.Format(time.RFC3339),
		"end":   b.End.Format(time.RFC3339),
	})
	s.Log.Info("Booking rescheduled",
		zap.String("booking_id", b.ID),
		zap.Duration("delta", delta),
	)
	return b, nil
}

func (s *DefaultBookingService) Cancel(ctx context.Context, bookingID, actor string) (*models.Booking, error) {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.BookingRequested, models.BookingConfirmed, models.BookingOngoing:
	default:
		if b.Terminal() {
			return nil, domain.ErrTerminalState
		}
		return nil, domain.ErrNotAllowed
	}

	now := s.Clock.Now()
	penalty := int64(0)
	if actor == models.ActorCustomer && b.Status != models.BookingRequested {
		policy, err := s.Directory.PolicyFor(ctx, b.ProviderID)
		if err != nil {
			return nil, err
		}
		late := b.Status == models.BookingOngoing || !now.Before(b.Start.Add(-policy.CancelCutoff))
		if late {
			penalty = b.Total * int64(policy.PenaltyRate) / 100
		}
	}

	expected := b.Version
	b.Status = models.BookingCancelled
	b.UpdatedAt = now
	if err := s.Repo.UpdateVersioned(ctx, b, expected); err != nil {
		return nil, err
	}

	s.releaseQuietly(ctx, b)

	if err := s.settleCancellation(ctx, b, actor, penalty); err != nil {
		// The booking is already cancelled; money cleanup failures are
		// surfaced but do not undo the transition.
		s.Log.Error("Cancellation settlement failed",
			zap.String("booking_id", b.ID), zap.Error(err))
	}

	s.publish(ctx, models.EventBookingCancelled, b, map[string]string{
		"actor":   actor,
		"penalty": strconv.FormatInt(penalty, 10),
	})
	s.Log.Info("Booking cancelled",
		zap.String("booking_id", b.ID),
		zap.String("actor", actor),
		zap.Int64("penalty", penalty),
	)
	return b, nil
}

// settleCancellation reconciles the plan with the cancellation policy. The
// customer keeps everything above the penalty; a system cancel (capture past
// grace) retains what was captured and refunds nothing.
func (s *DefaultBookingService) settleCancellation(ctx context.Context, b *models.Booking, actor string, penalty int64) error {
	plan, err := s.Payments.PlanForBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	net := plan.NetCaptured()

	if actor == models.ActorSystem {
		return s.Payments.Void(ctx, b.ID)
	}

	if net > penalty {
		if err := s.Payments.Refund(ctx, b.ID, net-penalty); err != nil {
			return err
		}
		s.publish(ctx, models.EventPaymentRefunded, b, map[string]string{
			"amount": strconv.FormatInt(net-penalty, 10),
		})
	}
	if err := s.Payments.Void(ctx, b.ID); err != nil {
		return err
	}
	if net < penalty {
		return s.Payments.AddPenalty(ctx, b.ID, penalty-net)
	}
	return nil
}

func (s *DefaultBookingService) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.Repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingOngoing {
		if b.Terminal() {
			return nil, domain.ErrTerminalState
		}
		return nil, domain.ErrNotAllowed
	}

	expected := b.Version
	b.Status = models.BookingCompleted
	b.UpdatedAt = s.Clock.Now()
	if err := s.Repo.UpdateVersioned(ctx, b, expected); err != nil {
		return nil, err
	}

	// The entry stays on record but stops blocking the calendar.
	if err := s.Slots.MarkHistorical(ctx, bookingID); err != nil {
		s.Log.Error("Failed to retire availability entry",
			zap.String("booking_id", bookingID), zap.Error(err))
	}

	// Final capture of whatever is still pending.
	plan, err := s.Payments.PlanForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for _, o := range plan.Obligations {
		if o.Status != models.ObligationPending {
			continue
		}
		if err := s.Payments.CaptureDue(ctx, plan.ID, o.Seq); err != nil {
			s.Log.Warn("Final capture failed",
				zap.String("booking_id", bookingID),
				zap.Int("seq", o.Seq),
				zap.Error(err),
			)
			s.publish(ctx, models.EventPaymentFailed, b, map[string]string{
				"seq": strconv.Itoa(o.Seq),
			})
			continue
		}
		s.publish(ctx, models.EventPaymentCaptured, b, map[string]string{
			"amount": strconv.FormatInt(o.Amount, 10),
			"seq":    strconv.Itoa(o.Seq),
		})
	}

	s.publish(ctx, models.EventBookingCompleted, b, nil)
	s.Log.Info("Booking completed", zap.String("booking_id", bookingID))
	return b, nil
}

func (s *DefaultBookingService) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *DefaultBookingService) ListForCustomer(ctx context.Context, customerID, status string) ([]models.Booking, error) {
	return s.Repo.ListByCustomer(ctx, customerID, status)
}

func (s *DefaultBookingService) ListForProvider(ctx context.Context, providerID, status string) ([]models.Booking, error) {
	return s.Repo.ListByProvider(ctx, providerID, status)
}

// transitionTo force-moves a just-written booking to a corrective status. The
// version was bumped by the caller's CAS, so this retries once on staleness.
func (s *DefaultBookingService) transitionTo(ctx context.Context, b *models.Booking, status string) {
	for attempt := 0; attempt < 2; attempt++ {
		b.Status = status
		b.UpdatedAt = s.Clock.Now()
		err := s.Repo.UpdateVersioned(ctx, b, b.Version)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrStaleState) {
			fresh, getErr := s.Repo.GetByID(ctx, b.ID)
			if getErr == nil {
				*b = *fresh
				continue
			}
		}
		s.Log.Error("Corrective transition failed",
			zap.String("booking_id", b.ID),
			zap.String("status", status),
			zap.Error(err),
		)
		return
	}
}

func (s *DefaultBookingService) releaseQuietly(ctx context.Context, b *models.Booking) {
	if err := s.Slots.ReleaseByBooking(ctx, b.ID); err != nil {
		s.Log.Error("Failed to release availability entry",
			zap.String("booking_id", b.ID), zap.Error(err))
	}
}

func (s *DefaultBookingService) voidQuietly(ctx context.Context, b *models.Booking) {
	if err := s.Payments.Void(ctx, b.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.Log.Error("Failed to void payment plan",
			zap.String("booking_id", b.ID), zap.Error(err))
	}
}

func (s *DefaultBookingService) publish(ctx context.Context, eventType string, b *models.Booking, data map[string]string) {
	err := s.Events.Publish(ctx, models.Event{
		Type:       eventType,
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		ProviderID: b.ProviderID,
		Data:       data,
		OccurredAt: s.Clock.Now(),
	})
	if err != nil {
		s.Log.Error("Event publish failed",
			zap.String("type", eventType),
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}
