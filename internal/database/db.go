package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bybit-funding-bot/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection
func NewDB(cfg config.PostgresConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations. Both tables are append-only;
// rows are never updated after insert.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			signal_type VARCHAR(20) NOT NULL,
			bias VARCHAR(10) NOT NULL,
			funding_rate DECIMAL(12, 6) NOT NULL,
			funding_delta DECIMAL(12, 6) NOT NULL,
			rsi DECIMAL(6, 2),
			score DECIMAL(6, 2) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			volume_24h DECIMAL(30, 8),
			timeframe VARCHAR(10) NOT NULL,
			context TEXT,
			momentum_label VARCHAR(20),
			funding_bias VARCHAR(30),
			dispatched BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_score ON signals(score DESC)`,

		`CREATE TABLE IF NOT EXISTS funding_snapshots (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			funding_rate DECIMAL(12, 6) NOT NULL,
			funding_delta DECIMAL(12, 6) NOT NULL,
			price DECIMAL(20, 8),
			volume_24h DECIMAL(30, 8),
			open_interest DECIMAL(30, 8),
			next_funding_time TIMESTAMP,
			captured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_snapshots_symbol ON funding_snapshots(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_snapshots_captured_at ON funding_snapshots(captured_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
