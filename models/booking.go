package models

import "time"

// Booking statuses. Terminal statuses are retained forever for audit.
const (
	BookingRequested = "requested"
	BookingConfirmed = "confirmed"
	BookingOngoing   = "ongoing"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
	BookingDeclined  = "declined"
	BookingExpired   = "expired"
)

// Actors allowed to drive booking transitions.
const (
	ActorCustomer = "customer"
	ActorProvider = "provider"
	ActorSystem   = "system"
)

// Booking is the aggregate root of one reservation. It owns exactly one
// availability entry and one payment plan for its whole lifetime and is only
// mutated through versioned state-machine transitions.
type Booking struct {
	ID         string    `bson:"id" json:"id"`                   // Unique booking identifier (UUID)
	CustomerID string    `bson:"customer_id" json:"customer_id"` // Customer who made the booking
	ProviderID string    `bson:"provider_id" json:"provider_id"` // Provider who was booked
	ServiceID  string    `bson:"service_id" json:"service_id"`   // Service being booked
	Start      time.Time `bson:"start" json:"start"`             // Slot start (half-open interval)
	End        time.Time `bson:"end" json:"end"`                 // Slot end
	Status     string    `bson:"status" json:"status"`
	Method     string    `bson:"payment_method" json:"payment_method"` // immediate | deferred | installment | credit
	Total      int64     `bson:"total_amount" json:"total_amount"`     // Minor units, or credits for credit bookings
	EntryID    string    `bson:"entry_id" json:"entry_id"`             // Owning availability entry
	HoldExpiry time.Time `bson:"hold_expiry" json:"hold_expiry"`       // When the request-phase hold lapses
	Version    int64     `bson:"version" json:"version"`               // Optimistic concurrency guard
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// Terminal reports whether no further mutation is allowed.
func (b *Booking) Terminal() bool {
	switch b.Status {
	case BookingCompleted, BookingCancelled, BookingDeclined, BookingExpired:
		return true
	}
	return false
}

// BookingRequest is the input to the request operation.
type BookingRequest struct {
	CustomerID string    `json:"customer_id" binding:"required"`
	ProviderID string    `json:"provider_id" binding:"required"`
	ServiceID  string    `json:"service_id" binding:"required"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required"`
	Method     string    `json:"payment_method" binding:"required"`
	Total      int64     `json:"total_amount" binding:"required"`
}
