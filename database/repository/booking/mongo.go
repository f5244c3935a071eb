// File: database/repository/booking/mongo.go
package bookingRepo

import (
	"context"
	"errors"
	"time"

	"servify/domain"
	"servify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (r *mongoBookingRepo) Create(ctx context.Context, b *models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, b)
	return err
}

func (r *mongoBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var b models.Booking
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *mongoBookingRepo) UpdateVersioned(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b.Version = expectedVersion + 1
	res, err := r.coll.ReplaceOne(ctx, bson.M{"id": b.ID, "version": expectedVersion}, b)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		b.Version = expectedVersion
		return domain.ErrStaleState
	}
	return nil
}

func (r *mongoBookingRepo) ListByCustomer(ctx context.Context, customerID, status string) ([]models.Booking, error) {
	filter := bson.M{"customer_id": customerID}
	if status != "" {
		filter["status"] = status
	}
	return r.list(ctx, filter)
}

func (r *mongoBookingRepo) ListByProvider(ctx context.Context, providerID, status string) ([]models.Booking, error) {
	filter := bson.M{"provider_id": providerID}
	if status != "" {
		filter["status"] = status
	}
	return r.list(ctx, filter)
}

func (r *mongoBookingRepo) ListRequestedExpired(ctx context.Context, now time.Time) ([]models.Booking, error) {
	return r.list(ctx, bson.M{
		"status":      models.BookingRequested,
		"hold_expiry": bson.M{"$lte": now},
	})
}

func (r *mongoBookingRepo) ListConfirmedStarted(ctx context.Context, now time.Time) ([]models.Booking, error) {
	return r.list(ctx, bson.M{
		"status": models.BookingConfirmed,
		"start":  bson.M{"$lte": now},
	})
}

func (r *mongoBookingRepo) list(ctx context.Context, filter bson.M) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}
