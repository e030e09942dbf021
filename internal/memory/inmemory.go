package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	items  map[string][]ArchivedItem
	states map[string]*ConversationState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:  make(map[string][]ArchivedItem),
		states: make(map[string]*ConversationState),
	}
}

func (s *InMemoryStore) InsertItems(_ context.Context, items []ArchivedItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		s.items[item.ConversationID] = append(s.items[item.ConversationID], item)
	}
	return len(items), nil
}

func (s *InMemoryStore) QueryItems(_ context.Context, q ItemQuery) ([]ArchivedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ArchivedItem, 0, len(s.items[q.ConversationID]))
	for _, item := range s.items[q.ConversationID] {
		if q.ContextType != "" && item.ContextType != q.ContextType {
			continue
		}
		if len(q.AnyTags) > 0 && !hasAnyTag(item.Tags, q.AnyTags) {
			continue
		}
		if q.MinScore != nil {
			if item.RelevanceScore == nil || *item.RelevanceScore < *q.MinScore {
				continue
			}
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := sortScore(out[i]), sortScore(out[j])
		if si != sj {
			return si > sj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) BulkUpdateScores(_ context.Context, updates []ScoreUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]float64, len(updates))
	for _, u := range updates {
		byID[u.ItemID] = u.Score
	}
	for conv, items := range s.items {
		for i := range items {
			if score, ok := byID[items[i].ID]; ok {
				v := score
				items[i].RelevanceScore = &v
			}
		}
		s.items[conv] = items
	}
	return nil
}

func (s *InMemoryStore) LinkParent(_ context.Context, conversationID string, itemIDs []string, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = true
	}
	items := s.items[conversationID]
	for i := range items {
		if wanted[items[i].ID] {
			items[i].ParentID = parentID
		}
	}
	s.items[conversationID] = items
	return nil
}

func (s *InMemoryStore) DeleteItems(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, conversationID)
	return nil
}

func (s *InMemoryStore) UpsertState(_ context.Context, state *ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ConversationID] = state.Clone()
	return nil
}

func (s *InMemoryStore) FindState(_ context.Context, conversationID string) (*ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[conversationID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) DeleteState(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

func (s *InMemoryStore) ListStates(_ context.Context) ([]*ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConversationState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// sortScore orders unscored items after every scored one, mirroring the
// postgres NULLS LAST ordering.
func sortScore(item ArchivedItem) float64 {
	if item.RelevanceScore == nil {
		return -1
	}
	return *item.RelevanceScore
}
