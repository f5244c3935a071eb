package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisEventsDB int    `mapstructure:"REDIS_EVENTS_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Stripe gateway.
	StripeKey string `mapstructure:"STRIPE_KEY"`
	Currency  string `mapstructure:"CURRENCY"`

	// Booking policy knobs. Kept configurable on purpose: the product side
	// tunes these per market without a redeploy.
	HoldTTLMinutes          int `mapstructure:"HOLD_TTL_MIN"`
	MinNoticeMinutes        int `mapstructure:"MIN_NOTICE_MIN"`
	CancelCutoffHours       int `mapstructure:"CANCEL_CUTOFF_HOURS"`
	CancelPenaltyRate       int `mapstructure:"CANCEL_PENALTY_RATE"` // percent of total
	InstallmentCount        int `mapstructure:"INSTALLMENT_COUNT"`
	InstallmentIntervalDays int `mapstructure:"INSTALLMENT_INTERVAL_DAYS"`
	CaptureGraceHours       int `mapstructure:"CAPTURE_GRACE_HOURS"`
	CaptureMaxAttempts      int `mapstructure:"CAPTURE_MAX_ATTEMPTS"`
	SweepIntervalSeconds    int `mapstructure:"SWEEP_INTERVAL_SEC"`

	// Default provider working hours (minutes from midnight) used when the
	// profile store carries no calendar for a provider.
	WorkdayStartMinute int `mapstructure:"WORKDAY_START_MIN"`
	WorkdayEndMinute   int `mapstructure:"WORKDAY_END_MIN"`

	MaxRequestsPerMin int `mapstructure:"MAX_REQUESTS_PER_MIN"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "servify")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_EVENTS_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("STRIPE_KEY", "")
	viper.SetDefault("CURRENCY", "usd")
	viper.SetDefault("HOLD_TTL_MIN", 5)
	viper.SetDefault("MIN_NOTICE_MIN", 60)
	viper.SetDefault("CANCEL_CUTOFF_HOURS", 24)
	viper.SetDefault("CANCEL_PENALTY_RATE", 20)
	viper.SetDefault("INSTALLMENT_COUNT", 3)
	viper.SetDefault("INSTALLMENT_INTERVAL_DAYS", 30)
	viper.SetDefault("CAPTURE_GRACE_HOURS", 48)
	viper.SetDefault("CAPTURE_MAX_ATTEMPTS", 3)
	viper.SetDefault("SWEEP_INTERVAL_SEC", 60)
	viper.SetDefault("WORKDAY_START_MIN", 480)
	viper.SetDefault("WORKDAY_END_MIN", 1200)
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// HoldTTL returns the bounded lifetime of an availability hold.
func (c Config) HoldTTL() time.Duration {
	return time.Duration(c.HoldTTLMinutes) * time.Minute
}

// MinNotice returns the fallback minimum-notice window.
func (c Config) MinNotice() time.Duration {
	return time.Duration(c.MinNoticeMinutes) * time.Minute
}

// CancelCutoff returns the free-cancellation window before slot start.
func (c Config) CancelCutoff() time.Duration {
	return time.Duration(c.CancelCutoffHours) * time.Hour
}

// CaptureGrace returns how long a failed capture may linger before the
// owning booking is force-cancelled.
func (c Config) CaptureGrace() time.Duration {
	return time.Duration(c.CaptureGraceHours) * time.Hour
}

// SweepInterval returns the nominal settlement sweep cadence.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
