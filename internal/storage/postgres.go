package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for audit logging. The service
// runs without one; callers treat a nil *DB as audit disabled.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogScriptRun inserts a script run record into the audit log.
func (db *DB) LogScriptRun(ctx context.Context, run *ScriptRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query := `
		INSERT INTO script_runs (id, owner_id, filename, kind, pid, status,
			log_path, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		run.ID, run.OwnerID, run.Filename, run.Kind, run.PID, run.Status,
		run.LogPath, run.StartedAt, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting script run: %w", err)
	}
	return nil
}

// LogSessionEvent inserts a session event record.
func (db *DB) LogSessionEvent(ctx context.Context, event *SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_events (id, owner_id, tier, event, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		event.ID, event.OwnerID, event.Tier, event.Event, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// ListScriptRuns queries run records with optional filters.
func (db *DB) ListScriptRuns(ctx context.Context, filter RunFilter) ([]ScriptRun, error) {
	query := `
		SELECT id, owner_id, filename, kind, pid, status, log_path, started_at, ended_at
		FROM script_runs
		WHERE ($1 = 0 OR owner_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.OwnerID, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying script runs: %w", err)
	}
	defer rows.Close()

	var results []ScriptRun
	for rows.Next() {
		var run ScriptRun
		if err := rows.Scan(
			&run.ID, &run.OwnerID, &run.Filename, &run.Kind, &run.PID,
			&run.Status, &run.LogPath, &run.StartedAt, &run.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning script run row: %w", err)
		}
		results = append(results, run)
	}

	return results, rows.Err()
}
