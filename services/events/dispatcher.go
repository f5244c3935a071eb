// Package events publishes domain events to the notification collaborator.
// The core guarantees at-least-once emission after the state change is
// durable; formatting and fan-out happen downstream.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"servify/models"
	"servify/utils"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream consumed by the notification dispatcher.
const EventStream = "servify:events"

// Dispatcher is the outbound event port.
type Dispatcher interface {
	Publish(ctx context.Context, event models.Event) error
}

// RedisDispatcher appends events to a Redis stream. Consumers read through a
// consumer group, which gives the at-least-once contract.
type RedisDispatcher struct {
	client *redis.Client
	clock  utils.Clock
	log    *zap.Logger
}

func NewRedisDispatcher(client *redis.Client, clock utils.Clock, log *zap.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		client: client,
		clock:  clock,
		log:    log.With(zap.String("component", "events")),
	}
}

func (d *RedisDispatcher) Publish(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.clock.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStream,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		// One immediate retry before surfacing; the stream append is cheap
		// and most failures here are connection blips.
		if retryErr := d.client.XAdd(ctx, &redis.XAddArgs{
			Stream: EventStream,
			Values: map[string]interface{}{"event": payload},
		}).Err(); retryErr != nil {
			d.log.Error("Failed to publish event",
				zap.String("type", event.Type),
				zap.String("booking_id", event.BookingID),
				zap.Error(retryErr),
			)
			return retryErr
		}
	}

	d.log.Debug("Event published",
		zap.String("type", event.Type),
		zap.String("booking_id", event.BookingID),
	)
	return nil
}

// Recorder collects events in memory; tests assert on it.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns published events of one type.
func (r *Recorder) ByType(eventType string) []models.Event {
	var out []models.Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
