// File: servify/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servify/config"
	"servify/cron"
	"servify/database"
	availabilityRepo "servify/database/repository/availability"
	bookingRepo "servify/database/repository/booking"
	creditRepo "servify/database/repository/credit"
	paymentRepo "servify/database/repository/payment"
	providerlockRepo "servify/database/repository/providerlock"
	"servify/handlers"
	"servify/middleware"
	"servify/routes"
	"servify/services/availability"
	"servify/services/booking"
	"servify/services/directory"
	"servify/services/events"
	"servify/services/payment"
	"servify/services/settlement"
	"servify/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitEventsClient()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())
	stripe.Key = config.AppConfig.StripeKey

	// repositories.
	slotRepo := availabilityRepo.NewMongoAvailabilityRepo()
	lockRepo := providerlockRepo.NewMongoLockRepo()
	bookRepo := bookingRepo.NewMongoBookingRepo()
	planRepo := paymentRepo.NewMongoPaymentRepo()
	credRepo := creditRepo.NewMongoCreditRepo()

	// services.
	clock := utils.SystemClock{}
	providerDirectory := directory.NewConfigDirectory()
	dispatcher := events.NewRedisDispatcher(utils.GetEventsClient(), clock, logger)

	slotLedger := &availability.DefaultAvailabilityLedger{
		Repo:      slotRepo,
		Locks:     lockRepo,
		Directory: providerDirectory,
		Clock:     clock,
		HoldTTL:   config.AppConfig.HoldTTL(),
		Log:       logger,
	}

	paymentLedger := &payment.DefaultPaymentLedger{
		Plans:               planRepo,
		Credits:             credRepo,
		Gateway:             payment.NewStripeGateway(logger),
		Clock:               clock,
		Log:                 logger,
		InstallmentCount:    config.AppConfig.InstallmentCount,
		InstallmentInterval: time.Duration(config.AppConfig.InstallmentIntervalDays) * 24 * time.Hour,
		Currency:            config.AppConfig.Currency,
	}

	bookingService := &booking.DefaultBookingService{
		Repo:      bookRepo,
		Slots:     slotLedger,
		Payments:  paymentLedger,
		Directory: providerDirectory,
		Events:    dispatcher,
		Clock:     clock,
		Log:       logger,
	}

	sweeper := &settlement.DefaultSweeper{
		Bookings:    bookRepo,
		BookingSvc:  bookingService,
		Plans:       planRepo,
		Payments:    paymentLedger,
		Slots:       slotLedger,
		Events:      dispatcher,
		Clock:       clock,
		Log:         logger,
		MaxAttempts: config.AppConfig.CaptureMaxAttempts,
		Grace:       config.AppConfig.CaptureGrace(),
	}
	cron.InitSettlementWorker(sweeper)

	// handlers.
	handlerBundle := &routes.HandlerBundle{
		Booking: &handlers.BookingHandler{Svc: bookingService, Log: logger},
		Payment: &handlers.PaymentHandler{Ledger: paymentLedger, Log: logger},
		Credits: &handlers.CreditHandler{Ledger: paymentLedger, Log: logger},
	}
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
