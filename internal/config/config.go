package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Queue    QueueConfig
	Realtime RealtimeConfig
	Janitor  JanitorConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DBName     string
	SSLMode    string
	TestDBName string // Separate database for testing
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// LedgerConfig holds credit-ledger tuning
type LedgerConfig struct {
	// LowBalanceThreshold triggers a warning notification when a deduction
	// leaves the general balance below it. Zero disables the warning.
	LowBalanceThreshold int64
}

// QueueConfig holds package-queue defaults
type QueueConfig struct {
	// DefaultEstimatedMinutes is used when an enqueue request does not
	// carry its own estimate.
	DefaultEstimatedMinutes int
}

// RealtimeConfig holds change-feed hub settings
type RealtimeConfig struct {
	// SubscriberBuffer is the per-subscriber event queue depth. A
	// subscriber that falls this far behind is dropped and must re-fetch.
	SubscriberBuffer int
}

// JanitorConfig holds the scheduled cleanup settings
type JanitorConfig struct {
	// Schedule is a cron expression for the completed-entry sweep.
	Schedule string
	// RetainCompletedHours is how long completed queue entries are kept
	// before the sweep removes them.
	RetainCompletedHours int
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			Username:   getEnv("DB_USERNAME", "postgres"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "advisory"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			TestDBName: getEnv("TEST_DB_NAME", "advisory_test"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "your-secret-key-here"),
		},
		Ledger: LedgerConfig{
			LowBalanceThreshold: int64(getEnvAsInt("LOW_BALANCE_THRESHOLD", 10)),
		},
		Queue: QueueConfig{
			DefaultEstimatedMinutes: getEnvAsInt("QUEUE_DEFAULT_ESTIMATED_MINUTES", 10),
		},
		Realtime: RealtimeConfig{
			SubscriberBuffer: getEnvAsInt("REALTIME_SUBSCRIBER_BUFFER", 64),
		},
		Janitor: JanitorConfig{
			Schedule:             getEnv("JANITOR_SCHEDULE", "@hourly"),
			RetainCompletedHours: getEnvAsInt("JANITOR_RETAIN_COMPLETED_HOURS", 24),
		},
	}
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
