// Package scoring ranks archived context items by relevance to the live
// conversation. Strategies are pluggable; the keyword strategy is always
// available and needs no configuration.
package scoring

import (
	"context"

	"github.com/contextd/contextd/internal/memory"
)

// Strategy scores candidate items against a query text. Results are sorted
// by descending score, ties broken by most recent creation time, and every
// score is normalized to [0,1].
type Strategy interface {
	Name() string
	ScoreRelevance(ctx context.Context, query string, items []memory.ArchivedItem) ([]memory.ScoredItem, error)
}

// Precomputer is an optional hook a strategy may implement to warm per-item
// derived data (embeddings, token sets) ahead of a scoring pass.
type Precomputer interface {
	Precompute(ctx context.Context, conversationID string, items []memory.ArchivedItem) error
}
