package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// PostgresStore keeps one journal row per key. Each save is a single upsert
// statement, which PostgreSQL applies atomically.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore connects with lib/pq and creates the journal table if needed
func NewPostgresStore(ctx context.Context, cfg config.JournalConfig) (*PostgresStore, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("postgres journal requires JOURNAL_POSTGRES_URI")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := NewPostgresStoreWithDB(db, cfg.PostgresTable)
	if err := store.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure journal table exists: %w", err)
	}

	return store, nil
}

// NewPostgresStoreWithDB wraps an open database handle
func NewPostgresStoreWithDB(db *sql.DB, tableName string) *PostgresStore {
	return &PostgresStore{db: db, tableName: tableName}
}

func (p *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			journal_key         TEXT PRIMARY KEY,
			last_completed_file TEXT,
			current_file        TEXT,
			current_line        BIGINT NOT NULL DEFAULT 0,
			updated_at          TIMESTAMPTZ NOT NULL
		)
	`, pq.QuoteIdentifier(p.tableName))

	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	query := fmt.Sprintf(`
		SELECT last_completed_file, current_file, current_line
		FROM %s
		WHERE journal_key = $1
	`, pq.QuoteIdentifier(p.tableName))

	var lastCompleted, current sql.NullString
	var line int64
	err := p.db.QueryRowContext(ctx, query, key).Scan(&lastCompleted, &current, &line)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.IdleState(), nil
		}
		return models.JournalState{}, fmt.Errorf("failed to load journal: %w", err)
	}

	return models.JournalState{
		LastCompletedFile: nullString(lastCompleted),
		CurrentFile:       nullString(current),
		CurrentLine:       line,
	}, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, state models.JournalState) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (journal_key, last_completed_file, current_file, current_line, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (journal_key) DO UPDATE
		SET last_completed_file = EXCLUDED.last_completed_file,
		    current_file = EXCLUDED.current_file,
		    current_line = EXCLUDED.current_line,
		    updated_at = EXCLUDED.updated_at
	`, pq.QuoteIdentifier(p.tableName))

	_, err := p.db.ExecContext(ctx, query,
		key, state.LastCompletedFile, state.CurrentFile, state.CurrentLine, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save journal: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
