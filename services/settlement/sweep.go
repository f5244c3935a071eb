// Package settlement is the time-driven side of the system: the periodic
// sweep that expires lapsed holds, captures due obligations, and advances
// bookings whose slot has started. Every action is idempotent per booking or
// obligation, so overlapping or delayed sweeps never double-process.
package settlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	bookingRepo "servify/database/repository/booking"
	paymentRepo "servify/database/repository/payment"
	"servify/domain"
	"servify/models"
	"servify/services/availability"
	"servify/services/booking"
	"servify/services/events"
	"servify/services/payment"
	"servify/utils"

	"go.uber.org/zap"
)

// Report summarizes one sweep pass.
type Report struct {
	HoldsReclaimed  int `json:"holds_reclaimed"`
	BookingsExpired int `json:"bookings_expired"`
	Captured        int `json:"captured"`
	CaptureFailures int `json:"capture_failures"`
	ForceCancelled  int `json:"force_cancelled"`
	Started         int `json:"started"`
}

// Sweeper runs the settlement pass.
type Sweeper interface {
	Sweep(ctx context.Context) (*Report, error)
}

// DefaultSweeper is the production implementation.
type DefaultSweeper struct {
	Bookings    bookingRepo.BookingRepository
	BookingSvc  booking.BookingService
	Plans       paymentRepo.PaymentRepository
	Payments    payment.PaymentLedger
	Slots       availability.AvailabilityLedger
	Events      events.Dispatcher
	Clock       utils.Clock
	Log         *zap.Logger
	MaxAttempts int
	Grace       time.Duration
}

func (s *DefaultSweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{}
	now := s.Clock.Now()

	reclaimed, err := s.Slots.ReclaimExpired(ctx)
	if err != nil {
		return report, err
	}
	report.HoldsReclaimed = len(reclaimed)

	if err := s.expireRequested(ctx, now, report); err != nil {
		return report, err
	}
	if err := s.captureDue(ctx, now, report); err != nil {
		return report, err
	}
	if err := s.enforceGrace(ctx, now, report); err != nil {
		return report, err
	}
	if err := s.startConfirmed(ctx, now, report); err != nil {
		return report, err
	}

	s.Log.Debug("Sweep finished",
		zap.Int("holds_reclaimed", report.HoldsReclaimed),
		zap.Int("bookings_expired", report.BookingsExpired),
		zap.Int("captured", report.Captured),
		zap.Int("capture_failures", report.CaptureFailures),
		zap.Int("force_cancelled", report.ForceCancelled),
		zap.Int("started", report.Started),
	)
	return report, nil
}

// expireRequested closes out requested bookings whose hold lapsed without a
// provider response. The version guard makes concurrent sweeps and a racing
// respond() agree on a single outcome.
func (s *DefaultSweeper) expireRequested(ctx context.Context, now time.Time, report *Report) error {
	stale, err := s.Bookings.ListRequestedExpired(ctx, now)
	if err != nil {
		return err
	}
	for i := range stale {
		b := stale[i]
		expected := b.Version
		b.Status = models.BookingExpired
		b.UpdatedAt = now
		if err := s.Bookings.UpdateVersioned(ctx, &b, expected); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				continue // someone responded in the meantime
			}
			return err
		}
		if err := s.Slots.ReleaseByBooking(ctx, b.ID); err != nil {
			s.Log.Error("Failed to release entry of expired booking",
				zap.String("booking_id", b.ID), zap.Error(err))
		}
		if err := s.Payments.Void(ctx, b.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.Log.Error("Failed to void plan of expired booking",
				zap.String("booking_id", b.ID), zap.Error(err))
		}
		s.publish(ctx, models.EventBookingExpired, b.ID, nil)
		report.BookingsExpired++
	}
	return nil
}

func (s *DefaultSweeper) captureDue(ctx context.Context, now time.Time, report *Report) error {
	due, err := s.Plans.ListDue(ctx, now)
	if err != nil {
		return err
	}
	for _, d := range due {
		plan, err := s.Plans.GetPlanByID(ctx, d.PlanID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}
		var target *models.PaymentObligation
		for i := range plan.Obligations {
			if plan.Obligations[i].Seq == d.Seq {
				target = &plan.Obligations[i]
				break
			}
		}
		if target == nil || target.Status != models.ObligationPending {
			continue
		}

		if target.Attempts >= s.MaxAttempts {
			// Retry budget spent; the grace check below decides the booking.
			failed := *target
			failed.Status = models.ObligationFailed
			if err := s.Plans.FlipObligation(ctx, plan.ID, d.Seq, models.ObligationPending, failed); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			s.publish(ctx, models.EventPaymentFailed, d.BookingID, map[string]string{
				"seq":    strconv.Itoa(d.Seq),
				"reason": "retries_exhausted",
			})
			report.CaptureFailures++
			continue
		}

		s.publish(ctx, models.EventObligationDue, d.BookingID, map[string]string{
			"seq": strconv.Itoa(d.Seq),
		})

		err = s.Payments.CaptureDue(ctx, d.PlanID, d.Seq)
		switch {
		case err == nil:
			s.publish(ctx, models.EventPaymentCaptured, d.BookingID, map[string]string{
				"seq":    strconv.Itoa(d.Seq),
				"amount": strconv.FormatInt(target.Amount, 10),
			})
			report.Captured++
		case errors.Is(err, domain.ErrPaymentDeclined), errors.Is(err, domain.ErrInsufficientCredit):
			s.publish(ctx, models.EventPaymentFailed, d.BookingID, map[string]string{
				"seq": strconv.Itoa(d.Seq),
			})
			report.CaptureFailures++
		case errors.Is(err, domain.ErrPaymentTransient):
			report.CaptureFailures++
		default:
			return err
		}
	}
	return nil
}

// enforceGrace force-cancels bookings whose failed capture has sat past the
// grace window. Captured amounts stay captured; there is no retro-refund.
func (s *DefaultSweeper) enforceGrace(ctx context.Context, now time.Time, report *Report) error {
	lapsed, err := s.Plans.ListFailedBefore(ctx, now.Add(-s.Grace))
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, d := range lapsed {
		if seen[d.BookingID] {
			continue
		}
		seen[d.BookingID] = true

		b, err := s.Bookings.GetByID(ctx, d.BookingID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}
		if b.Terminal() {
			continue
		}
		if _, err := s.BookingSvc.Cancel(ctx, d.BookingID, models.ActorSystem); err != nil {
			if errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrTerminalState) {
				continue
			}
			s.Log.Error("Force-cancel failed",
				zap.String("booking_id", d.BookingID), zap.Error(err))
			continue
		}
		report.ForceCancelled++
	}
	return nil
}

func (s *DefaultSweeper) startConfirmed(ctx context.Context, now time.Time, report *Report) error {
	started, err := s.Bookings.ListConfirmedStarted(ctx, now)
	if err != nil {
		return err
	}
	for i := range started {
		b := started[i]
		expected := b.Version
		b.Status = models.BookingOngoing
		b.UpdatedAt = now
		if err := s.Bookings.UpdateVersioned(ctx, &b, expected); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				continue
			}
			return err
		}
		s.publish(ctx, models.EventBookingStarted, b.ID, nil)
		report.Started++
	}
	return nil
}

func (s *DefaultSweeper) publish(ctx context.Context, eventType, bookingID string, data map[string]string) {
	err := s.Events.Publish(ctx, models.Event{
		Type:       eventType,
		BookingID:  bookingID,
		Data:       data,
		OccurredAt: s.Clock.Now(),
	})
	if err != nil {
		s.Log.Error("Event publish failed",
			zap.String("type", eventType),
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
	}
}
