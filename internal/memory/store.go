package memory

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by FindState when no state row exists for the
// conversation id. Callers treat it as an absent result, not a failure.
var ErrStateNotFound = errors.New("conversation state not found in store")

// Store is the durable backing store for archived context items and
// per-conversation state snapshots.
type Store interface {
	// InsertItems appends archived items and returns how many were written.
	InsertItems(ctx context.Context, items []ArchivedItem) (int, error)

	// QueryItems returns items matching the conjunctive filter, ordered by
	// descending score then descending creation time.
	QueryItems(ctx context.Context, q ItemQuery) ([]ArchivedItem, error)

	// BulkUpdateScores writes freshly computed relevance scores.
	BulkUpdateScores(ctx context.Context, updates []ScoreUpdate) error

	// LinkParent points the given items at the summary that subsumed them.
	LinkParent(ctx context.Context, conversationID string, itemIDs []string, parentID string) error

	// DeleteItems removes every item belonging to the conversation.
	DeleteItems(ctx context.Context, conversationID string) error

	UpsertState(ctx context.Context, state *ConversationState) error
	FindState(ctx context.Context, conversationID string) (*ConversationState, error)
	DeleteState(ctx context.Context, conversationID string) error
	ListStates(ctx context.Context) ([]*ConversationState, error)

	Ping(ctx context.Context) error
	Close() error
}
