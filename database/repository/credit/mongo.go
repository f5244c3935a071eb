// File: database/repository/credit/mongo.go
package creditRepo

import (
	"context"
	"errors"
	"time"

	"servify/domain"
	"servify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *mongoCreditRepo) GetBalance(ctx context.Context, customerID string) (*models.CreditBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var bal models.CreditBalance
	err := r.balances.FindOne(ctx, bson.M{"customer_id": customerID}).Decode(&bal)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.CreditBalance{CustomerID: customerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (r *mongoCreditRepo) Adjust(ctx context.Context, customerID string, availableDelta, heldDelta int64) (*models.CreditBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Ensure the balance document exists so the guarded update below can match.
	_, err := r.balances.UpdateOne(ctx,
		bson.M{"customer_id": customerID},
		bson.M{"$setOnInsert": bson.M{"available": int64(0), "held": int64(0), "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, err
	}

	// Guard against negative counters in the filter itself; no match means
	// the debit would overdraw.
	filter := bson.M{
		"customer_id": customerID,
		"available":   bson.M{"$gte": -availableDelta},
		"held":        bson.M{"$gte": -heldDelta},
	}
	update := bson.M{
		"$inc": bson.M{"available": availableDelta, "held": heldDelta},
		"$set": bson.M{"updated_at": time.Now()},
	}
	after := options.After
	var bal models.CreditBalance
	err = r.balances.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&bal)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrInsufficientCredit
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

func (r *mongoCreditRepo) AppendTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.ledger.InsertOne(ctx, tx)
	return err
}

func (r *mongoCreditRepo) ListTransactions(ctx context.Context, customerID string) ([]models.CreditTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.ledger.Find(ctx, bson.M{"customer_id": customerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var txs []models.CreditTransaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}
