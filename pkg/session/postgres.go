package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id       TEXT PRIMARY KEY,
    state            TEXT NOT NULL,
    record           JSONB NOT NULL,
    last_interaction TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresPersister stores sessions as JSONB rows keyed by session id.
// state and last_interaction are lifted into columns for operator queries;
// PII stays inside the sealed record document.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPostgresPersister connects with connString and ensures the schema.
func NewPostgresPersister(ctx context.Context, connString string) (*PostgresPersister, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	p := &PostgresPersister{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresPersister) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (p *PostgresPersister) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, state, record, last_interaction, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE
		SET state = EXCLUDED.state,
		    record = EXCLUDED.record,
		    last_interaction = EXCLUDED.last_interaction,
		    updated_at = now()`,
		rec.SessionID, string(rec.State), data, rec.LastInteraction)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (p *PostgresPersister) Load(ctx context.Context, sessionID string) (*Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT record FROM sessions WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", sessionID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Close releases the pool.
func (p *PostgresPersister) Close() {
	p.pool.Close()
}

var _ Persister = (*PostgresPersister)(nil)
