package models

import "time"

// WorkingHours is one weekday's bookable window in minutes from midnight.
type WorkingHours struct {
	Weekday     time.Weekday `bson:"weekday" json:"weekday"`
	StartMinute int          `bson:"start_minute" json:"start_minute"`
	EndMinute   int          `bson:"end_minute" json:"end_minute"`
}

// ProviderPolicy is the read-only policy snapshot the core fetches from the
// profile store once per operation.
type ProviderPolicy struct {
	ProviderID   string         `bson:"provider_id" json:"provider_id"`
	Hours        []WorkingHours `bson:"hours" json:"hours"`
	MinNotice    time.Duration  `bson:"min_notice" json:"min_notice"`
	CancelCutoff time.Duration  `bson:"cancel_cutoff" json:"cancel_cutoff"`
	PenaltyRate  int            `bson:"penalty_rate" json:"penalty_rate"` // Percent of booking total
}

// Allows reports whether the slot lies inside the provider's working hours.
// Slots must not span midnight.
func (p *ProviderPolicy) Allows(slot TimeSlot) bool {
	if len(p.Hours) == 0 {
		return true
	}
	startMin := slot.Start.Hour()*60 + slot.Start.Minute()
	endMin := slot.End.Hour()*60 + slot.End.Minute()
	if !slot.End.Truncate(24 * time.Hour).Equal(slot.Start.Truncate(24 * time.Hour)) {
		// Midnight-exact ends count as the same working day.
		if endMin != 0 {
			return false
		}
		endMin = 24 * 60
	}
	for _, h := range p.Hours {
		if h.Weekday == slot.Start.Weekday() && startMin >= h.StartMinute && endMin <= h.EndMinute {
			return true
		}
	}
	return false
}
