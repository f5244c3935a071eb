package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"servify/config"
	"servify/services/settlement"

	"github.com/hibiken/asynq"
)

const TypeSettlementSweep = "settlement:sweep"

// InitSettlementWorker runs the async worker and the periodic sweep
// scheduler in background.
func InitSettlementWorker(sweeper settlement.Sweeper) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSettlementSweep, handleSweepTask(sweeper))

	// Start async worker with retry logic
	go func() {
		log.Println("[SettlementWorker] Starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[SettlementWorker] Attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[SettlementWorker] Max retry attempts reached. Exiting.")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second) // Exponential backoff
			} else {
				break
			}
		}
	}()

	// The scheduler enqueues one sweep task per interval. Sweeps are
	// idempotent, so a missed or doubled tick is harmless.
	go func() {
		scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{})
		spec := fmt.Sprintf("@every %s", config.AppConfig.SweepInterval())
		if _, err := scheduler.Register(spec, asynq.NewTask(TypeSettlementSweep, nil)); err != nil {
			log.Printf("[SettlementWorker] Failed to register sweep schedule: %v", err)
			return
		}
		if err := scheduler.Run(); err != nil {
			log.Printf("[SettlementWorker] Scheduler stopped: %v", err)
		}
	}()
}

func handleSweepTask(sweeper settlement.Sweeper) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Printf("[SweepHandler] Sweep failed: %v", err)
			return err
		}
		if report.BookingsExpired > 0 || report.Captured > 0 || report.ForceCancelled > 0 || report.Started > 0 {
			log.Printf("[SweepHandler] expired=%d captured=%d failures=%d force_cancelled=%d started=%d",
				report.BookingsExpired, report.Captured, report.CaptureFailures, report.ForceCancelled, report.Started)
		}
		return nil
	}
}
