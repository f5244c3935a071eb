// File: database/repository/payment/mongo.go
package paymentRepo

import (
	"context"
	"errors"
	"time"

	"servify/domain"
	"servify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (r *mongoPaymentRepo) CreatePlan(ctx context.Context, plan *models.PaymentPlan) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, plan)
	return err
}

func (r *mongoPaymentRepo) GetPlanByID(ctx context.Context, id string) (*models.PaymentPlan, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *mongoPaymentRepo) GetPlanByBookingID(ctx context.Context, bookingID string) (*models.PaymentPlan, error) {
	return r.findOne(ctx, bson.M{"booking_id": bookingID})
}

func (r *mongoPaymentRepo) findOne(ctx context.Context, filter bson.M) (*models.PaymentPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var plan models.PaymentPlan
	err := r.coll.FindOne(ctx, filter).Decode(&plan)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *mongoPaymentRepo) UpdatePlan(ctx context.Context, plan *models.PaymentPlan) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	expected := plan.Version
	plan.Version = expected + 1
	res, err := r.coll.ReplaceOne(ctx, bson.M{"id": plan.ID, "version": expected}, plan)
	if err != nil {
		plan.Version = expected
		return err
	}
	if res.MatchedCount == 0 {
		plan.Version = expected
		return domain.ErrStaleState
	}
	return nil
}

func (r *mongoPaymentRepo) FlipObligation(ctx context.Context, planID string, seq int, from string, o models.PaymentObligation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id":          planID,
		"obligations": bson.M{"$elemMatch": bson.M{"seq": seq, "status": from}},
	}
	update := bson.M{
		"$set": bson.M{
			"obligations.$": o,
			"updated_at":    time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *mongoPaymentRepo) ListDue(ctx context.Context, now time.Time) ([]models.DueObligation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"voided": false,
		"obligations": bson.M{"$elemMatch": bson.M{
			"status": models.ObligationPending,
			"due_at": bson.M{"$lte": now},
		}},
	}
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var plans []models.PaymentPlan
	if err := cursor.All(ctx, &plans); err != nil {
		return nil, err
	}

	var due []models.DueObligation
	for _, p := range plans {
		for _, o := range p.Obligations {
			if o.Status == models.ObligationPending && !now.Before(o.DueAt) {
				due = append(due, models.DueObligation{PlanID: p.ID, BookingID: p.BookingID, Seq: o.Seq})
			}
		}
	}
	return due, nil
}

func (r *mongoPaymentRepo) ListFailedBefore(ctx context.Context, cutoff time.Time) ([]models.DueObligation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"voided": false,
		"obligations": bson.M{"$elemMatch": bson.M{
			"status": models.ObligationFailed,
			"due_at": bson.M{"$lte": cutoff},
		}},
	}
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var plans []models.PaymentPlan
	if err := cursor.All(ctx, &plans); err != nil {
		return nil, err
	}

	var out []models.DueObligation
	for _, p := range plans {
		for _, o := range p.Obligations {
			if o.Status == models.ObligationFailed && !cutoff.Before(o.DueAt) {
				out = append(out, models.DueObligation{PlanID: p.ID, BookingID: p.BookingID, Seq: o.Seq})
			}
		}
	}
	return out, nil
}
