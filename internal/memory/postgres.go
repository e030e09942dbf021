package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// PostgresStore persists context items and conversation state in PostgreSQL.
//
// The connection is established lazily on first use. Concurrent first callers
// share a single in-flight dial via singleflight; a failed dial is not cached,
// so the next caller retries instead of seeing a poisoned handle.
type PostgresStore struct {
	databaseURL  string
	queryTimeout time.Duration

	mu      sync.RWMutex
	pool    *pgxpool.Pool
	connect singleflight.Group
}

func NewPostgresStore(databaseURL string, queryTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		databaseURL:  strings.TrimSpace(databaseURL),
		queryTimeout: queryTimeout,
	}
}

func (s *PostgresStore) conn(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()
	if pool != nil {
		return pool, nil
	}

	v, err, _ := s.connect.Do("connect", func() (any, error) {
		pool, err := pgxpool.New(ctx, s.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := initSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		s.mu.Lock()
		s.pool = pool
		s.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS context_items (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			text_content TEXT NOT NULL,
			summary_text TEXT NOT NULL DEFAULT '',
			context_type TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			relevance_score DOUBLE PRECISION NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_context_items_conversation_score
			ON context_items (conversation_id, relevance_score DESC NULLS LAST, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			conversation_id TEXT PRIMARY KEY,
			current_context TEXT[] NOT NULL DEFAULT '{}',
			total_word_count INTEGER NOT NULL,
			max_word_count INTEGER NOT NULL,
			llm TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) InsertItems(ctx context.Context, items []ArchivedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO context_items (
				id, conversation_id, text_content, summary_text, context_type,
				tags, relevance_score, parent_id, word_count, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			item.ID,
			item.ConversationID,
			item.Text,
			item.SummaryText,
			string(item.ContextType),
			item.Tags,
			item.RelevanceScore,
			item.ParentID,
			item.WordCount,
			item.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert context item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return len(items), nil
}

func (s *PostgresStore) QueryItems(ctx context.Context, q ItemQuery) ([]ArchivedItem, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where := []string{"conversation_id=$1"}
	args := []any{q.ConversationID}
	if q.ContextType != "" {
		args = append(args, string(q.ContextType))
		where = append(where, fmt.Sprintf("context_type=$%d", len(args)))
	}
	if len(q.AnyTags) > 0 {
		args = append(args, q.AnyTags)
		where = append(where, fmt.Sprintf("tags && $%d", len(args)))
	}
	if q.MinScore != nil {
		args = append(args, *q.MinScore)
		where = append(where, fmt.Sprintf("relevance_score >= $%d", len(args)))
	}

	query := `SELECT id, conversation_id, text_content, summary_text, context_type,
	                 tags, relevance_score, parent_id, word_count, created_at
	            FROM context_items WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY relevance_score DESC NULLS LAST, created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query context items: %w", err)
	}
	defer rows.Close()

	items := make([]ArchivedItem, 0, q.Limit)
	for rows.Next() {
		var (
			item        ArchivedItem
			contextType string
		)
		if err := rows.Scan(
			&item.ID,
			&item.ConversationID,
			&item.Text,
			&item.SummaryText,
			&contextType,
			&item.Tags,
			&item.RelevanceScore,
			&item.ParentID,
			&item.WordCount,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan context item: %w", err)
		}
		item.ContextType = ContextType(contextType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) BulkUpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE context_items SET relevance_score=$1 WHERE id=$2`, u.Score, u.ItemID)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range updates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("update relevance score: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) LinkParent(ctx context.Context, conversationID string, itemIDs []string, parentID string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = pool.Exec(ctx,
		`UPDATE context_items SET parent_id=$1 WHERE conversation_id=$2 AND id = ANY($3)`,
		parentID, conversationID, itemIDs,
	)
	if err != nil {
		return fmt.Errorf("link parent: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteItems(ctx context.Context, conversationID string) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := pool.Exec(ctx, `DELETE FROM context_items WHERE conversation_id=$1`, conversationID); err != nil {
		return fmt.Errorf("delete context items: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertState(ctx context.Context, state *ConversationState) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = pool.Exec(ctx,
		`INSERT INTO conversation_states (
			conversation_id, current_context, total_word_count, max_word_count,
			llm, user_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			current_context=EXCLUDED.current_context,
			total_word_count=EXCLUDED.total_word_count,
			max_word_count=EXCLUDED.max_word_count,
			llm=EXCLUDED.llm,
			user_id=EXCLUDED.user_id,
			updated_at=EXCLUDED.updated_at`,
		state.ConversationID,
		state.CurrentContext,
		state.TotalWordCount,
		state.MaxWordCount,
		state.LLM,
		state.UserID,
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindState(ctx context.Context, conversationID string) (*ConversationState, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := pool.QueryRow(ctx,
		`SELECT conversation_id, current_context, total_word_count, max_word_count,
		        llm, user_id, created_at, updated_at
		   FROM conversation_states WHERE conversation_id=$1`,
		conversationID,
	)
	var state ConversationState
	if err := row.Scan(
		&state.ConversationID,
		&state.CurrentContext,
		&state.TotalWordCount,
		&state.MaxWordCount,
		&state.LLM,
		&state.UserID,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("find conversation state: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) DeleteState(ctx context.Context, conversationID string) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := pool.Exec(ctx, `DELETE FROM conversation_states WHERE conversation_id=$1`, conversationID); err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStates(ctx context.Context) ([]*ConversationState, error) {
	pool, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx,
		`SELECT conversation_id, current_context, total_word_count, max_word_count,
		        llm, user_id, created_at, updated_at
		   FROM conversation_states ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversation states: %w", err)
	}
	defer rows.Close()

	var out []*ConversationState
	for rows.Next() {
		var state ConversationState
		if err := rows.Scan(
			&state.ConversationID,
			&state.CurrentContext,
			&state.TotalWordCount,
			&state.MaxWordCount,
			&state.LLM,
			&state.UserID,
			&state.CreatedAt,
			&state.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation state: %w", err)
		}
		out = append(out, &state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation states: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.conn(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
