package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opencx/agentsim/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS interaction_records (
		agent TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		type TEXT NOT NULL,
		display_name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (agent, interaction_id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_active ON interaction_records(agent) WHERE completed_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordInteraction inserts a new active interaction for an agent. An
// existing record with the same id is reset to active.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, rec *domain.InteractionRecord) error {
	query := `
	INSERT INTO interaction_records (agent, interaction_id, channel_type, type, display_name, started_at, completed_at, duration)
	VALUES (?, ?, ?, ?, ?, ?, NULL, 0)
	ON CONFLICT(agent, interaction_id) DO UPDATE SET
		channel_type = excluded.channel_type,
		type = excluded.type,
		display_name = excluded.display_name,
		started_at = excluded.started_at,
		completed_at = NULL,
		duration = 0`

	_, err := s.db.ExecContext(ctx, query,
		rec.Agent, rec.ID, rec.ChannelType, rec.Type, rec.DisplayName,
		rec.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// CompleteInteraction marks an agent's interaction completed.
func (s *SQLiteStore) CompleteInteraction(ctx context.Context, agent, id string, completedAt time.Time, duration int) error {
	query := `
	UPDATE interaction_records SET completed_at = ?, duration = ?
	WHERE agent = ? AND interaction_id = ? AND completed_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, completedAt.Unix(), duration, agent, id)
	if err != nil {
		return fmt.Errorf("complete interaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("CompleteInteraction affected 0 rows", "agent", agent, "interaction_id", id)
	}
	return nil
}

// ActiveInteractions returns the agent's interactions that have not
// completed yet, oldest first.
func (s *SQLiteStore) ActiveInteractions(ctx context.Context, agent string) ([]*domain.InteractionRecord, error) {
	query := `
	SELECT agent, interaction_id, channel_type, type, display_name, started_at
	FROM interaction_records
	WHERE agent = ? AND completed_at IS NULL
	ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, agent)
	if err != nil {
		return nil, fmt.Errorf("query active interactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close active interactions rows", "error", closeErr)
		}
	}()

	var records []*domain.InteractionRecord
	for rows.Next() {
		var rec domain.InteractionRecord
		var startedAt int64
		if err := rows.Scan(
			&rec.Agent, &rec.ID, &rec.ChannelType, &rec.Type,
			&rec.DisplayName, &startedAt,
		); err != nil {
			return nil, fmt.Errorf("scan interaction record: %w", err)
		}
		rec.StartedAt = time.Unix(startedAt, 0)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active interactions: %w", err)
	}

	return records, nil
}

// HandlingStats returns completed-interaction statistics for an agent.
func (s *SQLiteStore) HandlingStats(ctx context.Context, agent string) (*domain.HandlingStats, error) {
	query := `
	SELECT COUNT(*), COALESCE(SUM(duration), 0)
	FROM interaction_records
	WHERE agent = ? AND completed_at IS NOT NULL`

	stats := &domain.HandlingStats{Agent: agent}
	row := s.db.QueryRowContext(ctx, query, agent)
	if err := row.Scan(&stats.HandledCount, &stats.HandlingSeconds); err != nil {
		return nil, fmt.Errorf("scan handling stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
