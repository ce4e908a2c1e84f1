package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// PostgresDB manages the PostgreSQL connection pool
type PostgresDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewPostgresDB opens the connection pool, verifies connectivity and ensures
// the schema exists.
func NewPostgresDB(logger arbor.ILogger, config *common.PostgresConfig) (*PostgresDB, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &PostgresDB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().
		Str("host", config.Host).
		Str("database", config.Database).
		Msg("Postgres database initialized")
	return p, nil
}

// migrate applies the idempotent schema
func (p *PostgresDB) migrate() error {
	if _, err := p.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB returns the underlying database connection
func (p *PostgresDB) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
