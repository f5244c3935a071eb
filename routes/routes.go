package routes

import (
	"net/http"
	"time"

	"servify/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HandlerBundle carries the wired handlers for route registration.
type HandlerBundle struct {
	Booking *handlers.BookingHandler
	Payment *handlers.PaymentHandler
	Credits *handlers.CreditHandler
}

// RegisterRoutes wires every endpoint onto the router.
func RegisterRoutes(r *gin.Engine, hb *HandlerBundle) {
	// Setup global middleware (e.g., CORS) here.
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterBookingRoutes(r, hb)
	RegisterPaymentRoutes(r, hb)
	RegisterCreditRoutes(r, hb)
	RegisterHealthRoute(r)
}

// RegisterBookingRoutes registers the booking state-machine endpoints.
func RegisterBookingRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/bookings")
	{
		api.POST("", hb.Booking.CreateBooking)
		api.GET("/:id", hb.Booking.GetBooking)
		api.POST("/:id/respond", hb.Booking.RespondBooking)
		api.POST("/:id/reschedule", hb.Booking.RescheduleBooking)
		api.POST("/:id/cancel", hb.Booking.CancelBooking)
		api.POST("/:id/complete", hb.Booking.CompleteBooking)
	}

	r.GET("/api/customers/:id/bookings", hb.Booking.ListCustomerBookings)
	r.GET("/api/providers/:id/bookings", hb.Booking.ListProviderBookings)
}

// RegisterPaymentRoutes registers plan and refund endpoints.
func RegisterPaymentRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/bookings")
	{
		api.GET("/:id/plan", hb.Payment.GetPlan)
		api.POST("/:id/refund", hb.Payment.RefundBooking)
	}
}

// RegisterCreditRoutes registers the credit ledger endpoints.
func RegisterCreditRoutes(r *gin.Engine, hb *HandlerBundle) {
	api := r.Group("/api/credits")
	{
		api.GET("/:customerID", hb.Credits.GetBalance)
		api.GET("/:customerID/transactions", hb.Credits.ListTransactions)
		api.POST("/purchase", hb.Credits.PurchaseCredits)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Hi, I'm Servify"})
	})
}
