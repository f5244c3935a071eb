package models

import "time"

// Availability entry statuses. A held entry either becomes committed or is
// released within its bounded expiry; historical entries keep the record of a
// completed booking without blocking future slots.
const (
	EntryHeld       = "held"
	EntryCommitted  = "committed"
	EntryHistorical = "historical"
)

// TimeSlot is a half-open [Start, End) interval for one provider, minutes
// granularity. End must be after Start.
type TimeSlot struct {
	Start time.Time `bson:"start" json:"start"`
	End   time.Time `bson:"end" json:"end"`
}

// Valid reports whether the interval is well formed.
func (s TimeSlot) Valid() bool {
	return s.End.After(s.Start)
}

// Overlaps applies the interval-intersection rule. Slots that merely touch
// (a.End == b.Start) do not conflict.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// AvailabilityEntry marks a slot as taken on a provider's calendar. For a
// fixed provider no two held/committed entries may overlap.
type AvailabilityEntry struct {
	ID         string    `bson:"id" json:"id"`
	ProviderID string    `bson:"provider_id" json:"provider_id"`
	BookingID  string    `bson:"booking_id" json:"booking_id"`
	Slot       TimeSlot  `bson:"slot" json:"slot"`
	Status     string    `bson:"status" json:"status"`
	ExpiresAt  time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"` // Only meaningful while held
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// Active reports whether the entry still blocks its slot at the given time.
func (e *AvailabilityEntry) Active(now time.Time) bool {
	switch e.Status {
	case EntryCommitted:
		return true
	case EntryHeld:
		return now.Before(e.ExpiresAt)
	}
	return false
}

// HoldToken references a held entry pending commit or release.
type HoldToken struct {
	EntryID   string    `json:"entry_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
