// File: database/repository/providerlock/lock.go
package providerlockRepo

import (
	"context"
	"sync"
	"time"

	"servify/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// LockRepository is the advisory per-provider lock that serializes overlap
// checks for a single provider. Two bookings for different providers never
// contend on it.
type LockRepository interface {
	// Acquire blocks until the provider lock is held or ctx expires.
	Acquire(ctx context.Context, providerID string, ttl time.Duration) error
	Release(ctx context.Context, providerID string) error
}

type lockDoc struct {
	ID        string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

type mongoLockRepo struct {
	coll *mongo.Collection
}

// NewMongoLockRepo constructs the MongoDB LockRepository. The unique _id
// insert is the lock acquisition; a TTL index on expires_at reclaims locks
// left behind by crashed instances.
func NewMongoLockRepo() LockRepository {
	return &mongoLockRepo{coll: database.DB().Collection("provider_locks")}
}

func (r *mongoLockRepo) Acquire(ctx context.Context, providerID string, ttl time.Duration) error {
	for {
		now := time.Now()
		_, err := r.coll.InsertOne(ctx, lockDoc{ID: providerID, ExpiresAt: now.Add(ttl), CreatedAt: now})
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return err
		}
		// Holder may have died; clear stale docs, then retry shortly.
		_, _ = r.coll.DeleteOne(ctx, bson.M{"_id": providerID, "expires_at": bson.M{"$lte": now}})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (r *mongoLockRepo) Release(ctx context.Context, providerID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": providerID})
	return err
}

type memoryLockRepo struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemoryLockRepo constructs an in-process LockRepository.
func NewMemoryLockRepo() LockRepository {
	return &memoryLockRepo{locks: make(map[string]*sync.Mutex)}
}

func (r *memoryLockRepo) mutexFor(providerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[providerID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[providerID] = m
	}
	return m
}

func (r *memoryLockRepo) Acquire(_ context.Context, providerID string, _ time.Duration) error {
	r.mutexFor(providerID).Lock()
	return nil
}

func (r *memoryLockRepo) Release(_ context.Context, providerID string) error {
	r.mutexFor(providerID).Unlock()
	return nil
}
