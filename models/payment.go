package models

import "time"

// Payment methods, mirrored by the plan tag.
const (
	MethodImmediate   = "immediate"
	MethodDeferred    = "deferred"
	MethodInstallment = "installment"
	MethodCredit      = "credit"
)

// Obligation statuses.
const (
	ObligationPending  = "pending"
	ObligationCaptured = "captured"
	ObligationFailed   = "failed"
	ObligationRefunded = "refunded"
	ObligationVoided   = "voided" // authorization released before capture
)

// PaymentObligation is one scheduled or completed movement within a plan.
// Amount is in integer minor units, or whole credits for credit plans; money
// never touches floating point.
type PaymentObligation struct {
	Seq        int       `bson:"seq" json:"seq"` // 1-based, ordered by due date
	DueAt      time.Time `bson:"due_at" json:"due_at"`
	Amount     int64     `bson:"amount" json:"amount"`
	Status     string    `bson:"status" json:"status"`
	Attempts   int       `bson:"attempts" json:"attempts"` // Transient-failure capture attempts
	GatewayRef string    `bson:"gateway_ref,omitempty" json:"gateway_ref,omitempty"`
	CapturedAt time.Time `bson:"captured_at,omitempty" json:"captured_at,omitempty"`
	// RefundedAmount caps how much can still be reversed against this
	// charge; it never exceeds Amount.
	RefundedAmount int64 `bson:"refunded_amount,omitempty" json:"refunded_amount,omitempty"`
}

// PaymentPlan is the tagged payment variant owned 1:1 by a booking. Method
// selects the authorize/capture behavior; the obligation sequence is the
// shared representation across all variants.
type PaymentPlan struct {
	ID          string              `bson:"id" json:"id"`
	BookingID   string              `bson:"booking_id" json:"booking_id"`
	CustomerID  string              `bson:"customer_id" json:"customer_id"`
	Method      string              `bson:"method" json:"method"`
	Total       int64               `bson:"total" json:"total"`
	Refunded    int64               `bson:"refunded" json:"refunded"` // Total reversed so far
	Voided      bool                `bson:"voided" json:"voided"`     // Authorization released, nothing left to settle
	Version     int64               `bson:"version" json:"version"`   // Optimistic concurrency guard
	Obligations []PaymentObligation `bson:"obligations" json:"obligations"`
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updated_at"`
}

// NetCaptured returns captured minus refunded. The ledger refuses any
// mutation that would push this above Total.
func (p *PaymentPlan) NetCaptured() int64 {
	var captured int64
	for _, o := range p.Obligations {
		if o.Status == ObligationCaptured || o.Status == ObligationRefunded {
			captured += o.Amount
		}
	}
	return captured - p.Refunded
}

// Outstanding returns the sum of pending obligations.
func (p *PaymentPlan) Outstanding() int64 {
	var pending int64
	for _, o := range p.Obligations {
		if o.Status == ObligationPending {
			pending += o.Amount
		}
	}
	return pending
}

// DueObligation points the sweep at one pending obligation past its due date.
type DueObligation struct {
	PlanID    string `bson:"plan_id" json:"plan_id"`
	BookingID string `bson:"booking_id" json:"booking_id"`
	Seq       int    `bson:"seq" json:"seq"`
}
