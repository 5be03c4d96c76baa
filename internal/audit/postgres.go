package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS workflow_audit_log (
    id          BIGSERIAL PRIMARY KEY,
    workflow_id TEXT        NOT NULL,
    run_id      TEXT        NOT NULL DEFAULT '',
    event_type  TEXT        NOT NULL,
    step        TEXT        NOT NULL DEFAULT '',
    status      TEXT        NOT NULL DEFAULT '',
    message     TEXT        NOT NULL DEFAULT '',
    details     JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_workflow_id ON workflow_audit_log (workflow_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_created_at  ON workflow_audit_log (created_at);
`

// PostgresStore is the Postgres implementation of the audit Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the audit schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// LogEvent records a lifecycle event and returns its assigned ID.
func (s *PostgresStore) LogEvent(ctx context.Context, e Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("audit: marshal details: %w", err)
		}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO workflow_audit_log
			(workflow_id, run_id, event_type, step, status, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.WorkflowID, e.RunID, string(e.EventType), e.Step, e.Status, e.Message, details, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: insert event: %w", err)
	}

	return id, nil
}

// History returns the events for a workflow, newest first.
func (s *PostgresStore) History(ctx context.Context, workflowID string, limit, offset int) ([]Entry, error) {
	if workflowID == "" {
		return nil, ErrWorkflowIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, run_id, event_type, step, status, message, details, created_at
		FROM workflow_audit_log
		WHERE workflow_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		workflowID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			evtType string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.RunID, &evtType, &e.Step, &e.Status, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		e.EventType = EventType(evtType)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("audit: unmarshal details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate rows: %w", err)
	}

	return entries, nil
}

// CleanupOldEntries deletes entries older than the retention window.
func (s *PostgresStore) CleanupOldEntries(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}

	return tag.RowsAffected(), nil
}
