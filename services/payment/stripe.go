package payment

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"go.uber.org/zap"
)

// StripeGateway settles money plans through Stripe PaymentIntents. The
// package-level stripe.Key is set once at startup.
type StripeGateway struct {
	Log *zap.Logger
}

func NewStripeGateway(log *zap.Logger) *StripeGateway {
	return &StripeGateway{Log: log.With(zap.String("component", "stripe"))}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
		Confirm:     stripe.Bool(true),
		// Off-session: obligations come due without the customer present.
		OffSession: stripe.Bool(true),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
	}
	params.Context = ctx
	if req.Idempotency != "" {
		params.IdempotencyKey = stripe.String(req.Idempotency)
	}
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("customer_id", req.CustomerID)

	pi, err := paymentintent.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok {
			switch stripeErr.Type {
			case stripe.ErrorTypeCard:
				return &ChargeResult{Outcome: OutcomeDeclined, Reason: string(stripeErr.Code)}, nil
			case stripe.ErrorTypeAPI:
				return &ChargeResult{Outcome: OutcomeTransient, Reason: stripeErr.Msg}, nil
			}
		}
		g.Log.Error("Stripe charge failed", zap.String("booking_id", req.BookingID), zap.Error(err))
		return nil, err
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeResult{Outcome: OutcomeSucceeded, Ref: pi.ID}, nil
	case stripe.PaymentIntentStatusProcessing:
		return &ChargeResult{Outcome: OutcomeTransient, Ref: pi.ID, Reason: "processing"}, nil
	default:
		return &ChargeResult{Outcome: OutcomeDeclined, Ref: pi.ID, Reason: string(pi.Status)}, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, ref string, amount int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(ref),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	if _, err := refund.New(params); err != nil {
		g.Log.Error("Stripe refund failed", zap.String("payment_intent", ref), zap.Error(err))
		return err
	}
	return nil
}
