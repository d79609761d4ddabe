// Package db persists motion-task lifecycle events to PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

// dsn builds a lib/pq keyword/value connection string.
func dsn(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		sslMode,
	)
}

// InsertEvent appends one lifecycle event to motion_events.
func (db *DB) InsertEvent(ctx context.Context, ev motion.Event) error {
	var outcome sql.NullString
	if ev.Outcome != "" {
		outcome = sql.NullString{String: string(ev.Outcome), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO motion_events (task_id, name, detail, phase, outcome, at, elapsed_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.TaskID, ev.Name, ev.Detail, string(ev.Phase), outcome, ev.At.UTC(), ev.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert motion event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]motion.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT task_id, name, detail, phase, COALESCE(outcome, ''), at, elapsed_ms
		 FROM motion_events ORDER BY at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query motion events: %w", err)
	}
	defer rows.Close()

	var events []motion.Event
	for rows.Next() {
		var (
			ev        motion.Event
			phase     string
			outcome   string
			elapsedMS int64
		)
		if err := rows.Scan(&ev.TaskID, &ev.Name, &ev.Detail, &phase, &outcome, &ev.At, &elapsedMS); err != nil {
			return nil, fmt.Errorf("scan motion event: %w", err)
		}
		ev.Phase = motion.EventPhase(phase)
		ev.Outcome = motion.Outcome(outcome)
		ev.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events older than maxAge.
func (db *DB) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM motion_events WHERE at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("prune motion events: %w", err)
	}
	return res.RowsAffected()
}
