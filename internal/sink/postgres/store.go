// Package postgres persists the knowledge sink and segment metadata in
// PostgreSQL, for installations that index transcripts rather than read
// daily notes.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"github.com/voxhollow/earshot/internal/sink"
)

// Compile-time assertions.
var (
	_ sink.KnowledgeSink   = (*Store)(nil)
	_ sink.StorageNotifier = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          TEXT PRIMARY KEY,
	stream_start BIGINT NOT NULL,
	stream_end   BIGINT NOT NULL,
	text        TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	activation  BOOLEAN NOT NULL DEFAULT FALSE,
	ambiguous   BOOLEAN NOT NULL DEFAULT FALSE,
	command     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS system_events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	description TEXT NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS segments (
	segment_id   BIGINT PRIMARY KEY,
	stream_start BIGINT NOT NULL,
	stream_end   BIGINT NOT NULL,
	permanent    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is a PostgreSQL-backed [sink.KnowledgeSink] and
// [sink.StorageNotifier]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// WriteTranscript implements [sink.KnowledgeSink]. Stream offsets are
// stored as microseconds; record IDs are sortable xids so insertion order
// survives export.
func (s *Store) WriteTranscript(ctx context.Context, rec sink.TranscriptRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (id, stream_start, stream_end, text, confidence, activation, ambiguous, command)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		xid.New().String(), rec.Start.Microseconds(), rec.End.Microseconds(),
		rec.Text, rec.Confidence, rec.Activation, rec.Ambiguous, rec.Command)
	if err != nil {
		return fmt.Errorf("postgres: insert transcript: %w", err)
	}
	return nil
}

// WriteSystemEvent implements [sink.KnowledgeSink].
func (s *Store) WriteSystemEvent(ctx context.Context, ev sink.SystemEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_events (id, kind, severity, description, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		xid.New().String(), ev.Kind, ev.Severity.String(), ev.Description, ev.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: insert system event: %w", err)
	}
	return nil
}

// NotifySegment implements [sink.StorageNotifier]. Re-notifying a segment
// upgrades its retention flag but never clears it.
func (s *Store) NotifySegment(ctx context.Context, rec sink.SegmentRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO segments (segment_id, stream_start, stream_end, permanent)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (segment_id) DO UPDATE
		 SET permanent = segments.permanent OR EXCLUDED.permanent`,
		int64(rec.SegmentID), rec.Start.Microseconds(), rec.End.Microseconds(), rec.Permanent)
	if err != nil {
		return fmt.Errorf("postgres: upsert segment: %w", err)
	}
	return nil
}

// retentionWindow is how far around the activation's stream time segments
// are flagged for permanent retention.
const retentionWindow = 30 * time.Second

// MarkRetention flags every stored segment overlapping the window around the
// given stream time as permanently retained.
func (s *Store) MarkRetention(ctx context.Context, at time.Duration) error {
	lo := (at - retentionWindow).Microseconds()
	hi := (at + retentionWindow).Microseconds()
	_, err := s.pool.Exec(ctx,
		`UPDATE segments SET permanent = TRUE
		 WHERE stream_end >= $1 AND stream_start <= $2`,
		lo, hi)
	if err != nil {
		return fmt.Errorf("postgres: mark retention: %w", err)
	}
	return nil
}

// Ping verifies database connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
