// File: database/repository/payment/interface.go
package paymentRepo

import (
	"context"
	"time"

	"servify/database"
	"servify/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// PaymentRepository persists payment plans and their obligation sequences.
type PaymentRepository interface {
	CreatePlan(ctx context.Context, plan *models.PaymentPlan) error
	GetPlanByID(ctx context.Context, id string) (*models.PaymentPlan, error)
	GetPlanByBookingID(ctx context.Context, bookingID string) (*models.PaymentPlan, error)
	// UpdatePlan replaces the plan guarded by its version and bumps it;
	// a writer holding a stale copy gets domain.ErrStaleState.
	UpdatePlan(ctx context.Context, plan *models.PaymentPlan) error
	// FlipObligation moves one obligation from one status to another
	// atomically and bumps the plan version; a lost race returns
	// domain.ErrNotFound so sweep retries stay idempotent.
	FlipObligation(ctx context.Context, planID string, seq int, from string, o models.PaymentObligation) error
	// ListDue returns pending obligations whose due date has passed.
	ListDue(ctx context.Context, now time.Time) ([]models.DueObligation, error)
	// ListFailedBefore returns failed obligations that came due on or before
	// cutoff; the sweep uses it to enforce the capture grace window.
	ListFailedBefore(ctx context.Context, cutoff time.Time) ([]models.DueObligation, error)
}

type mongoPaymentRepo struct {
	coll *mongo.Collection
}

// NewMongoPaymentRepo constructs the MongoDB PaymentRepository.
func NewMongoPaymentRepo() PaymentRepository {
	return &mongoPaymentRepo{coll: database.DB().Collection("payment_plans")}
}
