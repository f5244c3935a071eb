// File: database/repository/availability/interface.go
package availabilityRepo

import (
	"context"
	"time"

	"servify/database"
	"servify/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// AvailabilityRepository stores the per-provider slot commitments.
type AvailabilityRepository interface {
	Insert(ctx context.Context, entry *models.AvailabilityEntry) error
	GetByID(ctx context.Context, id string) (*models.AvailabilityEntry, error)
	GetByBookingID(ctx context.Context, bookingID string) (*models.AvailabilityEntry, error)
	// FindActiveOverlapping returns held (non-expired) and committed entries
	// for the provider whose slots intersect [start, end), excluding excludeID.
	FindActiveOverlapping(ctx context.Context, providerID string, start, end time.Time, excludeID string, now time.Time) ([]models.AvailabilityEntry, error)
	// UpdateStatus flips an entry from one status to another. It fails with
	// domain.ErrNotFound when the entry is no longer in the expected status.
	UpdateStatus(ctx context.Context, id, from, to string) error
	UpdateSlot(ctx context.Context, id string, slot models.TimeSlot) error
	Delete(ctx context.Context, id string) error
	// DeleteExpiredHolds reclaims lapsed holds and returns the booking ids
	// they belonged to.
	DeleteExpiredHolds(ctx context.Context, now time.Time) ([]string, error)
}

type mongoAvailabilityRepo struct {
	coll *mongo.Collection
}

// NewMongoAvailabilityRepo constructs the MongoDB AvailabilityRepository.
func NewMongoAvailabilityRepo() AvailabilityRepository {
	return &mongoAvailabilityRepo{coll: database.DB().Collection("availability_entries")}
}
