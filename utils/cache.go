// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"time"

	"servify/config"

	"github.com/go-redis/redis/v8"
)

var (
	// EventsClient is the dedicated client for domain event publishing.
	EventsClient *redis.Client
)

// InitEventsClient initializes the Redis client used for the domain event stream.
func InitEventsClient() {
	EventsClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisEventsDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := EventsClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis (Events): %v", err)
	}
}

// GetEventsClient returns the Redis client for the domain event stream.
func GetEventsClient() *redis.Client {
	if EventsClient == nil {
		InitEventsClient()
	}
	return EventsClient
}
