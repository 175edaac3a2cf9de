package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"credit_pool/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the database connection and provides health checks
type DB struct {
	conn         *sqlx.DB
	queryTimeout time.Duration

	// Pricing rows change rarely and are read on every settlement
	pricingCache *LRUCache[models.ModelPricing]
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	QueryTimeout time.Duration

	PricingCacheSize int
	PricingCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN: "postgres://postgres@localhost:5432/credit_pool?sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		QueryTimeout: 5 * time.Second,

		PricingCacheSize: 500,
		PricingCacheTTL:  15 * time.Minute,
	}
}

// NewDB opens a pooled PostgreSQL connection.
func NewDB(cfg DBConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:         conn,
		queryTimeout: cfg.QueryTimeout,
		pricingCache: NewLRUCache[models.ModelPricing](cfg.PricingCacheSize, cfg.PricingCacheTTL),
	}, nil
}

// Migrate creates any missing tables and indexes. It is safe to run on
// every start.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.pricingCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// DBStats reports connection pool and cache counters
type DBStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`

	PricingCacheStats CacheStats `json:"pricing_cache"`
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		PricingCacheStats:  db.pricingCache.Stats(),
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired pricing entries. The service
// sweep calls it on every tick.
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.pricingCache.CleanupExpired()
}

// withTimeout bounds a read query by the configured timeout.
func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}
