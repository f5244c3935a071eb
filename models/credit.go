package models

import "time"

// Credit transaction types, one row per movement (append-only).
const (
	CreditPurchase = "purchase"
	CreditUsed     = "used"
	CreditRefund   = "refund"
	CreditBonus    = "bonus"
)

// CreditBalance is the per-customer prepaid balance. Available never goes
// negative; Held tracks credits reserved by authorized-but-uncaptured plans.
type CreditBalance struct {
	CustomerID string    `bson:"customer_id" json:"customer_id"`
	Available  int64     `bson:"available" json:"available"`
	Held       int64     `bson:"held" json:"held"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// CreditTransaction is one movement in the credit ledger, with the balance
// snapshot after it was applied.
type CreditTransaction struct {
	ID           string    `bson:"id" json:"id"`
	CustomerID   string    `bson:"customer_id" json:"customer_id"`
	Amount       int64     `bson:"amount" json:"amount"` // Positive for purchase/refund, negative for use
	Type         string    `bson:"type" json:"type"`
	BookingID    string    `bson:"booking_id,omitempty" json:"booking_id,omitempty"`
	Description  string    `bson:"description" json:"description"`
	BalanceAfter int64     `bson:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}
