// File: database/repository/booking/interface.go
package bookingRepo

import (
	"context"
	"time"

	"servify/database"
	"servify/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// BookingRepository persists booking aggregates. Bookings are never deleted;
// terminal rows stay for audit.
type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	// UpdateVersioned writes the booking only when the stored version still
	// equals expectedVersion, bumping the version by one. A lost race returns
	// domain.ErrStaleState.
	UpdateVersioned(ctx context.Context, b *models.Booking, expectedVersion int64) error
	ListByCustomer(ctx context.Context, customerID, status string) ([]models.Booking, error)
	ListByProvider(ctx context.Context, providerID, status string) ([]models.Booking, error)
	// ListRequestedExpired returns requested bookings whose hold lapsed.
	ListRequestedExpired(ctx context.Context, now time.Time) ([]models.Booking, error)
	// ListConfirmedStarted returns confirmed bookings whose slot start passed.
	ListConfirmedStarted(ctx context.Context, now time.Time) ([]models.Booking, error)
}

type mongoBookingRepo struct {
	coll *mongo.Collection
}

// NewMongoBookingRepo constructs the MongoDB BookingRepository.
func NewMongoBookingRepo() BookingRepository {
	return &mongoBookingRepo{coll: database.DB().Collection("bookings")}
}
