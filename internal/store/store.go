// File: internal/store/store.go

// Package store persists behavioral events, engagement records and learned
// pattern history in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// SaveEvents bulk-inserts a batch of interaction events using the COPY
// protocol. Events arrive already sanitized; the store never inspects
// metadata beyond serializing it.
func (s *Store) SaveEvents(ctx context.Context, events []schemas.InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize event metadata: %w", err)
		}
		if len(metadata) == 0 || string(metadata) == "null" {
			metadata = []byte("{}")
		}

		rows[i] = []interface{}{
			ev.ID, ev.SessionID, ev.UserID, ev.Timestamp.UTC(),
			string(ev.Action), ev.Page, ev.Element,
			metadata, ev.TimeSpent,
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"behavioral_events"},
		[]string{"id", "session_id", "user_id", "observed_at", "action", "page", "element", "metadata", "time_spent_ms"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy behavioral events: %w", err)
	}
	if int(copyCount) != len(events) {
		return fmt.Errorf("mismatch in copied event count: expected %d, got %d", len(events), copyCount)
	}
	return nil
}

// SaveNavigations bulk-inserts navigation events.
func (s *Store) SaveNavigations(ctx context.Context, navs []schemas.NavigationEvent) error {
	if len(navs) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(navs))
	for i, n := range navs {
		rows[i] = []interface{}{
			n.SessionID, n.Timestamp.UTC(),
			n.From, n.To, string(n.Trigger), n.TimeOnPreviousPage,
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"navigation_events"},
		[]string{"session_id", "observed_at", "from_page", "to_page", "trigger", "time_on_previous_ms"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy navigation events: %w", err)
	}
	if int(copyCount) != len(navs) {
		return fmt.Errorf("mismatch in copied navigation count: expected %d, got %d", len(navs), copyCount)
	}
	return nil
}

// SaveEngagements bulk-inserts suggestion engagement events.
func (s *Store) SaveEngagements(ctx context.Context, events []schemas.EngagementEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(events))
	for i, ev := range events {
		rows[i] = []interface{}{
			ev.SuggestionID, ev.RuleID, string(ev.Category),
			string(ev.Type), ev.Timestamp.UTC(), ev.TimeToDecisionMS,
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"engagement_events"},
		[]string{"suggestion_id", "rule_id", "category", "type", "observed_at", "time_to_decision_ms"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy engagement events: %w", err)
	}
	if int(copyCount) != len(events) {
		return fmt.Errorf("mismatch in copied engagement count: expected %d, got %d", len(events), copyCount)
	}
	return nil
}

const sqlUpsertLearnedPattern = `
        INSERT INTO learned_patterns (pattern, occurrences, successes, confidence, last_seen, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (pattern) DO UPDATE SET
            occurrences = EXCLUDED.occurrences,
            successes = EXCLUDED.successes,
            confidence = EXCLUDED.confidence,
            last_seen = EXCLUDED.last_seen,
            updated_at = EXCLUDED.updated_at;
    `

// UpsertLearnedPatterns writes the accumulated history for each pattern in a
// single batch. Last write wins per pattern row.
func (s *Store) UpsertLearnedPatterns(ctx context.Context, patterns []schemas.LearnedPattern) error {
	if len(patterns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, p := range patterns {
		batch.Queue(sqlUpsertLearnedPattern,
			string(p.Pattern), p.Occurrences, p.Successes, p.Confidence,
			p.LastSeen.UTC(), now,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.log.Error("Failed to close batch results", zap.Error(err))
		}
	}()

	for range patterns {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert learned pattern: %w", err)
		}
	}
	return nil
}

// LoadLearnedPatterns reads the full learned pattern history, keyed by
// pattern type.
func (s *Store) LoadLearnedPatterns(ctx context.Context) (map[schemas.PatternType]schemas.LearnedPattern, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT pattern, occurrences, successes, confidence, last_seen, updated_at
        FROM learned_patterns;
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[schemas.PatternType]schemas.LearnedPattern)
	for rows.Next() {
		var p schemas.LearnedPattern
		var pattern string
		if err := rows.Scan(&pattern, &p.Occurrences, &p.Successes, &p.Confidence, &p.LastSeen, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learned pattern: %w", err)
		}
		p.Pattern = schemas.PatternType(pattern)
		out[p.Pattern] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading learned patterns: %w", err)
	}
	return out, nil
}

// PruneEvents deletes behavioral events older than the retention window.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM behavioral_events WHERE observed_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune behavioral events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsRetryable reports whether a persistence error is worth retrying. Context
// cancellation and SQL-level failures are terminal; everything else is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 covers connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return true
}
