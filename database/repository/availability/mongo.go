// File: database/repository/availability/mongo.go
package availabilityRepo

import (
	"context"
	"errors"
	"time"

	"servify/domain"
	"servify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (r *mongoAvailabilityRepo) Insert(ctx context.Context, entry *models.AvailabilityEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, entry)
	return err
}

func (r *mongoAvailabilityRepo) GetByID(ctx context.Context, id string) (*models.AvailabilityEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var entry models.AvailabilityEntry
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *mongoAvailabilityRepo) GetByBookingID(ctx context.Context, bookingID string) (*models.AvailabilityEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var entry models.AvailabilityEntry
	err := r.coll.FindOne(ctx, bson.M{"booking_id": bookingID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *mongoAvailabilityRepo) FindActiveOverlapping(ctx context.Context, providerID string, start, end time.Time, excludeID string, now time.Time) ([]models.AvailabilityEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Half-open interval intersection; touching boundaries do not conflict.
	filter := bson.M{
		"provider_id": providerID,
		"slot.start":  bson.M{"$lt": end},
		"slot.end":    bson.M{"$gt": start},
		"$or": []bson.M{
			{"status": models.EntryCommitted},
			{"status": models.EntryHeld, "expires_at": bson.M{"$gt": now}},
		},
	}
	if excludeID != "" {
		filter["id"] = bson.M{"$ne": excludeID}
	}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []models.AvailabilityEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *mongoAvailabilityRepo) UpdateStatus(ctx context.Context, id, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"id": id, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *mongoAvailabilityRepo) UpdateSlot(ctx context.Context, id string, slot models.TimeSlot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"slot": slot}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *mongoAvailabilityRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.DeleteOne(ctx, bson.M{"id": id})
	return err
}

func (r *mongoAvailabilityRepo) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"status": models.EntryHeld, "expires_at": bson.M{"$lte": now}}
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var expired []models.AvailabilityEntry
	if err := cursor.All(ctx, &expired); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	ids := make([]string, len(expired))
	bookingIDs := make([]string, len(expired))
	for i, e := range expired {
		ids[i] = e.ID
		bookingIDs[i] = e.BookingID
	}
	if _, err := r.coll.DeleteMany(ctx, bson.M{"id": bson.M{"$in": ids}, "status": models.EntryHeld}); err != nil {
		return nil, err
	}
	return bookingIDs, nil
}
