// Package deadletter persists firehose batches that exhausted their delivery
// attempts, so they can be inspected and replayed.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hullclient/pkg/firehose"
	"hullclient/pkg/logger"
	"hullclient/pkg/problems"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("dead letter not found")

// Record is a stored failed batch.
type Record struct {
	ID           uuid.UUID
	Organization string
	URL          string
	ProblemType  string
	Error        string
	Entries      []firehose.Entry
	FailedAt     time.Time
}

// storedEntry keeps the token that firehose.Entry leaves out of JSON, so a
// replayed item authenticates as the subject that produced it.
type storedEntry struct {
	Context map[string]any `json:"context,omitempty"`
	Data    firehose.Item  `json:"data"`
	Token   string         `json:"token,omitempty"`
}

// db is the subset of *pgxpool.Pool the store needs.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a Postgres-backed firehose.Sink.
type Store struct {
	db  db
	log logger.Sugared
}

func New(pool *pgxpool.Pool, log logger.Sugared) *Store {
	return &Store{db: pool, log: log}
}

// EnsureSchema creates the table if it does not exist. Safe to call
// repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS firehose_dead_letters (
  id uuid PRIMARY KEY,
  organization text NOT NULL,
  url text NOT NULL,
  problem_type text NOT NULL,
  error text NOT NULL,
  size int NOT NULL,
  entries jsonb NOT NULL,
  failed_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS firehose_dead_letters_org_idx ON firehose_dead_letters(organization, failed_at DESC);
`)
	return err
}

// Record implements firehose.Sink.
func (s *Store) Record(ctx context.Context, f firehose.FailedBatch) error {
	raw, err := encodeEntries(f.Entries)
	if err != nil {
		return err
	}
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	id := uuid.New()
	_, err = s.db.Exec(ctx, `
		INSERT INTO firehose_dead_letters(id, organization, url, problem_type, error, size, entries, failed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, f.Organization, f.URL, problems.Type(f.Err), msg, len(f.Entries), raw, f.FailedAt)
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	s.log.Warnw("deadletter.recorded", "id", id, "organization", f.Organization, "size", len(f.Entries))
	return nil
}

// List returns the most recent records of organization, newest first.
func (s *Store) List(ctx context.Context, organization string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, organization, url, problem_type, error, entries, failed_at
		FROM firehose_dead_letters WHERE organization=$1
		ORDER BY failed_at DESC LIMIT $2`, organization, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get loads a single record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	r, err := scan(s.db.QueryRow(ctx, `
		SELECT id, organization, url, problem_type, error, entries, failed_at
		FROM firehose_dead_letters WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM firehose_dead_letters WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Replay enqueues the entries of a record on q, waits for their delivery and
// deletes the record once every entry went through.
func (s *Store) Replay(ctx context.Context, id uuid.UUID, q firehose.Queue) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pending := make([]*firehose.Pending, len(r.Entries))
	for i, e := range r.Entries {
		pending[i] = q.Enqueue(e)
	}
	for _, p := range pending {
		if err := p.Wait(ctx); err != nil {
			return fmt.Errorf("replay %s: %w", id, err)
		}
	}
	return s.Delete(ctx, id)
}

func scan(row pgx.Row) (Record, error) {
	var r Record
	var raw []byte
	if err := row.Scan(&r.ID, &r.Organization, &r.URL, &r.ProblemType, &r.Error, &raw, &r.FailedAt); err != nil {
		return Record{}, err
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return Record{}, err
	}
	r.Entries = entries
	return r, nil
}

func encodeEntries(entries []firehose.Entry) ([]byte, error) {
	stored := make([]storedEntry, len(entries))
	for i, e := range entries {
		stored[i] = storedEntry{Context: e.Context, Data: e.Data, Token: e.Token}
	}
	return json.Marshal(stored)
}

func decodeEntries(raw []byte) ([]firehose.Entry, error) {
	var stored []storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode dead letter entries: %w", err)
	}
	out := make([]firehose.Entry, len(stored))
	for i, e := range stored {
		out[i] = firehose.Entry{Context: e.Context, Data: e.Data, Token: e.Token}
	}
	return out, nil
}
