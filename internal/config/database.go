package config

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Create users table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			password VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create credit_balances table. The CHECK constraint is the final
	// guard against a negative balance; deductions are additionally
	// gated by a conditional UPDATE in the repository.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_balances (
			owner_id VARCHAR(36) PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			general_credits BIGINT NOT NULL DEFAULT 0 CHECK (general_credits >= 0),
			health_score_credits BIGINT NOT NULL DEFAULT 0 CHECK (health_score_credits >= 0),
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create credit_transactions table (append-only audit log)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_transactions (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			currency VARCHAR(16) NOT NULL,
			amount BIGINT NOT NULL,
			kind VARCHAR(10) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			feature_type VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create package_queue table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS package_queue (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			report_id VARCHAR(36) NOT NULL,
			package_name VARCHAR(255) NOT NULL,
			document_ids TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(16) NOT NULL,
			estimated_completion TIMESTAMP NOT NULL,
			requested_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create notifications table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL,
			message TEXT NOT NULL,
			kind VARCHAR(10) NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_credit_transactions_owner ON credit_transactions(owner_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_package_queue_owner_status ON package_queue(owner_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_package_queue_report ON package_queue(report_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner_id, created_at DESC)",
	}

	for _, idx := range indexes {
		_, err = db.Exec(idx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create index")
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
