package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StateRepository owns the load/save/delete lifecycle of conversation state:
// an advisory in-process cache in front of the durable Store. The Store is
// the source of truth; the cache only short-circuits reads.
type StateRepository struct {
	mu    sync.RWMutex
	cache map[string]*ConversationState
	store Store
}

func NewStateRepository(store Store) *StateRepository {
	return &StateRepository{
		cache: make(map[string]*ConversationState),
		store: store,
	}
}

// Load returns the cached state when present, falls back to the Store on a
// miss, and returns (nil, nil) when the conversation is unknown so the caller
// can decide to create it.
func (r *StateRepository) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	r.mu.RLock()
	cached, ok := r.cache[conversationID]
	r.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	state, err := r.store.FindState(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load conversation %q: %w", conversationID, err)
	}

	r.mu.Lock()
	r.cache[conversationID] = state.Clone()
	r.mu.Unlock()
	return state, nil
}

// Save writes to the Store first and only then updates the cache. A crash
// between the two leaves the Store consistent and the cache merely stale,
// which the next Load miss repairs.
func (r *StateRepository) Save(ctx context.Context, state *ConversationState) error {
	if err := r.store.UpsertState(ctx, state); err != nil {
		return fmt.Errorf("save conversation %q: %w", state.ConversationID, err)
	}
	r.mu.Lock()
	r.cache[state.ConversationID] = state.Clone()
	r.mu.Unlock()
	return nil
}

// Delete removes the state from cache and Store. Deleting an unknown id is a
// no-op, not an error.
func (r *StateRepository) Delete(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	delete(r.cache, conversationID)
	r.mu.Unlock()
	if err := r.store.DeleteState(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %q: %w", conversationID, err)
	}
	return nil
}

// Invalidate drops a cache entry without touching the Store.
func (r *StateRepository) Invalidate(conversationID string) {
	r.mu.Lock()
	delete(r.cache, conversationID)
	r.mu.Unlock()
}

// CachedCount reports how many conversations are currently cached.
func (r *StateRepository) CachedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
