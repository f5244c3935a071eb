package models

import "time"

// Domain event types emitted after a state change is durably committed.
// Formatting and delivery belong to the notification collaborator.
const (
	EventBookingRequested   = "BookingRequested"
	EventBookingConfirmed   = "BookingConfirmed"
	EventBookingDeclined    = "BookingDeclined"
	EventBookingRescheduled = "BookingRescheduled"
	EventBookingCancelled   = "BookingCancelled"
	EventBookingExpired     = "BookingExpired"
	EventBookingStarted     = "BookingStarted"
	EventBookingCompleted   = "BookingCompleted"
	EventPaymentCaptured    = "PaymentCaptured"
	EventPaymentFailed      = "PaymentFailed"
	EventPaymentRefunded    = "PaymentRefunded"
	EventObligationDue      = "ObligationDue"
)

// Event is one at-least-once domain notification.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	BookingID  string            `json:"booking_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
