// File: database/repository/credit/interface.go
package creditRepo

import (
	"context"

	"servify/database"
	"servify/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// CreditRepository stores per-customer prepaid balances plus the append-only
// transaction ledger behind them.
type CreditRepository interface {
	GetBalance(ctx context.Context, customerID string) (*models.CreditBalance, error)
	// Adjust applies availableDelta/heldDelta atomically. It fails with
	// domain.ErrInsufficientCredit when either counter would go negative.
	Adjust(ctx context.Context, customerID string, availableDelta, heldDelta int64) (*models.CreditBalance, error)
	AppendTransaction(ctx context.Context, tx *models.CreditTransaction) error
	ListTransactions(ctx context.Context, customerID string) ([]models.CreditTransaction, error)
}

type mongoCreditRepo struct {
	balances *mongo.Collection
	ledger   *mongo.Collection
}

// NewMongoCreditRepo constructs the MongoDB CreditRepository.
func NewMongoCreditRepo() CreditRepository {
	db := database.DB()
	return &mongoCreditRepo{
		balances: db.Collection("credit_balances"),
		ledger:   db.Collection("credit_transactions"),
	}
}
