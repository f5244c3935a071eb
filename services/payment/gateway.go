package payment

import "context"

// Gateway outcomes. Declined is terminal for the obligation; transient is
// retried by the settlement sweep with a bounded attempt count.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeDeclined  = "declined"
	OutcomeTransient = "transient_error"
)

// ChargeRequest asks the gateway to move funds for one obligation.
type ChargeRequest struct {
	BookingID   string
	CustomerID  string
	Amount      int64 // minor units
	Currency    string
	Description string
	Idempotency string
}

// ChargeResult reports the gateway's verdict.
type ChargeResult struct {
	Outcome string
	Ref     string // gateway-side payment reference
	Reason  string
}

// Gateway is the card/bank rails collaborator. The ledger never interprets
// gateway responses beyond the three outcomes.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, ref string, amount int64) error
}
