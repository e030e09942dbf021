// Package contextmgr is the context-window decision engine: it decides when
// live messages are archived to the store, when archived material is
// reinstated, and keeps per-conversation state consistent through both.
package contextmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/contextd/contextd/internal/memory"
	"github.com/contextd/contextd/internal/observability"
	"github.com/contextd/contextd/internal/scoring"
)

// Orchestrator owns in-flight conversation mutation. At most one archive or
// retrieval execution runs per conversation id at a time, enforced by keyed
// mutexes, which the snapshot/rollback contract depends on.
type Orchestrator struct {
	policy  Policy
	repo    *memory.StateRepository
	store   memory.Store
	scorer  scoring.Strategy
	metrics *observability.Metrics

	eventMu sync.RWMutex
	events  EventSink

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(policy Policy, repo *memory.StateRepository, store memory.Store, scorer scoring.Strategy, metrics *observability.Metrics) *Orchestrator {
	if scorer == nil {
		scorer = scoring.NewKeywordStrategy()
	}
	return &Orchestrator{
		policy:  policy,
		repo:    repo,
		store:   store,
		scorer:  scorer,
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ScorerName reports which scoring strategy is active.
func (o *Orchestrator) ScorerName() string { return o.scorer.Name() }

func (o *Orchestrator) lockConversation(id string) func() {
	o.lockMu.Lock()
	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	o.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// InitializeConversation returns existing state for the id, creating and
// persisting a fresh zero-count state only when none exists. Idempotent.
func (o *Orchestrator) InitializeConversation(ctx context.Context, id, llm, userID string) (*memory.ConversationState, error) {
	unlock := o.lockConversation(id)
	defer unlock()
	return o.initLocked(ctx, id, llm, userID)
}

func (o *Orchestrator) initLocked(ctx context.Context, id, llm, userID string) (*memory.ConversationState, error) {
	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return nil, storeErr("initialize conversation", err)
	}
	if state != nil {
		return state, nil
	}

	now := time.Now().UTC()
	state = &memory.ConversationState{
		ConversationID: id,
		CurrentContext: []string{},
		TotalWordCount: 0,
		MaxWordCount:   o.policy.DefaultMaxWordCount,
		LLM:            llm,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.repo.Save(ctx, state); err != nil {
		o.metrics.IncStoreError("save_state")
		return nil, storeErr("initialize conversation", err)
	}
	o.metrics.ConversationCreated()
	o.emit(EventInitialized, id, "")
	log.Info().Str("conversation_id", id).Str("llm", llm).Msg("conversation initialized")
	return state, nil
}

// AddMessage appends the message, persists the updated state, then evaluates
// the archive policy followed by the retrieve policy. Neither decision is
// executed here; callers inspect the decisions and invoke ExecuteArchive /
// ExecuteRetrieval themselves, which keeps partial failure isolable to one
// execution step and allows dry-run vetoes.
func (o *Orchestrator) AddMessage(ctx context.Context, id, text, llm, userID string) (*memory.ConversationState, ArchiveDecision, RetrievalDecision, error) {
	unlock := o.lockConversation(id)
	defer unlock()

	state, err := o.initLocked(ctx, id, llm, userID)
	if err != nil {
		return nil, ArchiveDecision{}, RetrievalDecision{}, err
	}

	state.CurrentContext = append(state.CurrentContext, text)
	state.TotalWordCount += memory.WordCount(text)
	state.UpdatedAt = time.Now().UTC()
	if err := o.repo.Save(ctx, state); err != nil {
		o.metrics.IncStoreError("save_state")
		return nil, ArchiveDecision{}, RetrievalDecision{}, storeErr("add message", err)
	}
	o.emit(EventMessageAdded, id, fmt.Sprintf("%d words in window", state.TotalWordCount))

	archiveDec := o.evaluateArchive(state)
	retrievalDec, err := o.evaluateRetrieval(ctx, state)
	if err != nil {
		return nil, ArchiveDecision{}, RetrievalDecision{}, err
	}
	o.metrics.IncOperation("add_message", "ok")
	return state, archiveDec, retrievalDec, nil
}

// EvaluateArchive re-runs the archive policy check for an existing
// conversation without executing it.
func (o *Orchestrator) EvaluateArchive(ctx context.Context, id string) (*memory.ConversationState, ArchiveDecision, error) {
	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return nil, ArchiveDecision{}, storeErr("evaluate archive", err)
	}
	if state == nil {
		return nil, ArchiveDecision{}, &Error{Kind: KindNotFound, Op: "evaluate archive", Err: ErrConversationNotFound}
	}
	return state, o.evaluateArchive(state), nil
}

// EvaluateRetrieval re-runs the retrieve policy check for an existing
// conversation without executing it.
func (o *Orchestrator) EvaluateRetrieval(ctx context.Context, id string) (*memory.ConversationState, RetrievalDecision, error) {
	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return nil, RetrievalDecision{}, storeErr("evaluate retrieval", err)
	}
	if state == nil {
		return nil, RetrievalDecision{}, &Error{Kind: KindNotFound, Op: "evaluate retrieval", Err: ErrConversationNotFound}
	}
	decision, err := o.evaluateRetrieval(ctx, state)
	if err != nil {
		return nil, RetrievalDecision{}, err
	}
	return state, decision, nil
}

type stateSnapshot struct {
	currentContext []string
	totalWordCount int
	updatedAt      time.Time
}

func snapshot(state *memory.ConversationState) stateSnapshot {
	return stateSnapshot{
		currentContext: append([]string(nil), state.CurrentContext...),
		totalWordCount: state.TotalWordCount,
		updatedAt:      state.UpdatedAt,
	}
}

func restore(state *memory.ConversationState, snap stateSnapshot) {
	state.CurrentContext = snap.currentContext
	state.TotalWordCount = snap.totalWordCount
	state.UpdatedAt = snap.updatedAt
}

// ExecuteArchive moves the decision's candidates into the store and drops
// them from the live window. On any store failure the state is restored to
// its exact pre-call value and the error propagated: a failed archive leaves
// the conversation as if never attempted.
func (o *Orchestrator) ExecuteArchive(ctx context.Context, state *memory.ConversationState, decision ArchiveDecision) error {
	if !decision.ShouldArchive {
		return nil
	}
	unlock := o.lockConversation(state.ConversationID)
	defer unlock()

	snap := snapshot(state)

	if _, err := o.store.InsertItems(ctx, decision.Candidates); err != nil {
		restore(state, snap)
		o.metrics.IncStoreError("insert_items")
		o.metrics.IncOperation("archive", "error")
		return storeErr("execute archive", err)
	}

	archivedWords := 0
	for _, c := range decision.Candidates {
		archivedWords += c.WordCount
	}
	state.CurrentContext = append([]string(nil), state.CurrentContext[len(decision.Candidates):]...)
	state.TotalWordCount -= archivedWords
	state.UpdatedAt = time.Now().UTC()

	if err := o.repo.Save(ctx, state); err != nil {
		restore(state, snap)
		o.metrics.IncStoreError("save_state")
		o.metrics.IncOperation("archive", "error")
		return storeErr("execute archive", err)
	}

	o.metrics.IncOperation("archive", "ok")
	o.metrics.AddArchivedItems(len(decision.Candidates))
	o.emit(EventArchived, state.ConversationID, fmt.Sprintf("%d messages archived", len(decision.Candidates)))
	log.Info().
		Str("conversation_id", state.ConversationID).
		Int("messages", len(decision.Candidates)).
		Int("words", archivedWords).
		Msg("archived oldest messages")
	return nil
}

// ExecuteRetrieval reinstates the decision's items at the front of the live
// window, highest relevance closest to the front, with the same
// snapshot/rollback contract as ExecuteArchive.
func (o *Orchestrator) ExecuteRetrieval(ctx context.Context, state *memory.ConversationState, decision RetrievalDecision) error {
	if !decision.ShouldRetrieve {
		return nil
	}
	unlock := o.lockConversation(state.ConversationID)
	defer unlock()

	snap := snapshot(state)

	retrievedWords := 0
	texts := make([]string, 0, len(decision.Items))
	for _, s := range decision.Items {
		content := s.Item.Content()
		texts = append(texts, content)
		retrievedWords += memory.WordCount(content)
	}
	state.CurrentContext = append(texts, state.CurrentContext...)
	state.TotalWordCount += retrievedWords
	state.UpdatedAt = time.Now().UTC()

	if err := o.repo.Save(ctx, state); err != nil {
		restore(state, snap)
		o.metrics.IncStoreError("save_state")
		o.metrics.IncOperation("retrieve", "error")
		return storeErr("execute retrieval", err)
	}

	o.metrics.IncOperation("retrieve", "ok")
	o.metrics.AddRetrievedItems(len(decision.Items))
	o.emit(EventRetrieved, state.ConversationID, fmt.Sprintf("%d items reinstated", len(decision.Items)))
	log.Info().
		Str("conversation_id", state.ConversationID).
		Int("items", len(decision.Items)).
		Int("words", retrievedWords).
		Msg("reinstated archived items")
	return nil
}

// CreateSummary folds low-scoring archived items into one summary item and
// re-links the consumed items to it. The conversation must exist and there
// must be something to summarize.
func (o *Orchestrator) CreateSummary(ctx context.Context, id, summaryText, llm, userID string) (*memory.ArchivedItem, error) {
	unlock := o.lockConversation(id)
	defer unlock()

	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return nil, storeErr("create summary", err)
	}
	if state == nil {
		return nil, &Error{Kind: KindNotFound, Op: "create summary", Err: ErrConversationNotFound}
	}

	minScore := o.policy.SummaryThreshold
	items, err := o.store.QueryItems(ctx, memory.ItemQuery{
		ConversationID: id,
		ContextType:    memory.ContextTypeArchived,
		MinScore:       &minScore,
		Limit:          o.policy.SummaryLimit,
	})
	if err != nil {
		o.metrics.IncStoreError("query_items")
		return nil, storeErr("create summary", err)
	}
	if len(items) == 0 {
		return nil, &Error{Kind: KindEmptyInput, Op: "create summary", Err: ErrNoArchivedItems}
	}

	summary := memory.ArchivedItem{
		ID:             uuid.NewString(),
		ConversationID: id,
		SummaryText:    summaryText,
		ContextType:    memory.ContextTypeSummary,
		Tags:           categorizeTags(summaryText),
		WordCount:      memory.WordCount(summaryText),
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := o.store.InsertItems(ctx, []memory.ArchivedItem{summary}); err != nil {
		o.metrics.IncStoreError("insert_items")
		return nil, storeErr("create summary", err)
	}

	consumed := make([]string, 0, len(items))
	for _, item := range items {
		consumed = append(consumed, item.ID)
	}
	if err := o.store.LinkParent(ctx, id, consumed, summary.ID); err != nil {
		o.metrics.IncStoreError("link_parent")
		return nil, storeErr("create summary", err)
	}

	o.metrics.IncOperation("summarize", "ok")
	o.emit(EventSummarized, id, fmt.Sprintf("%d items folded into summary", len(consumed)))
	log.Info().Str("conversation_id", id).Str("user_id", userID).Str("llm", llm).Int("items", len(consumed)).Msg("created summary")
	return &summary, nil
}

// ConversationStatus is a read-only snapshot for status queries.
type ConversationStatus struct {
	ConversationID string    `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
	TotalWordCount int       `json:"total_word_count"`
	MaxWordCount   int       `json:"max_word_count"`
	UsageRatio     float64   `json:"usage_ratio"`
	ArchivedCount  int       `json:"archived_count"`
	SummaryCount   int       `json:"summary_count"`
	LLM            string    `json:"llm"`
	UserID         string    `json:"user_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetConversationStatus returns nil (no error) for an unknown conversation.
// It never creates state.
func (o *Orchestrator) GetConversationStatus(ctx context.Context, id string) (*ConversationStatus, error) {
	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return nil, storeErr("conversation status", err)
	}
	if state == nil {
		return nil, nil
	}

	items, err := o.store.QueryItems(ctx, memory.ItemQuery{ConversationID: id})
	if err != nil {
		o.metrics.IncStoreError("query_items")
		return nil, storeErr("conversation status", err)
	}
	archived, summaries := 0, 0
	for _, item := range items {
		switch item.ContextType {
		case memory.ContextTypeSummary:
			summaries++
		case memory.ContextTypeArchived:
			archived++
		}
	}

	return &ConversationStatus{
		ConversationID: state.ConversationID,
		MessageCount:   len(state.CurrentContext),
		TotalWordCount: state.TotalWordCount,
		MaxWordCount:   state.MaxWordCount,
		UsageRatio:     state.UsageRatio(),
		ArchivedCount:  archived,
		SummaryCount:   summaries,
		LLM:            state.LLM,
		UserID:         state.UserID,
		UpdatedAt:      state.UpdatedAt,
	}, nil
}

// RemoveConversation deletes the conversation's state and archived items from
// cache and store. Idempotent; removing an unknown id succeeds.
func (o *Orchestrator) RemoveConversation(ctx context.Context, id string) error {
	unlock := o.lockConversation(id)
	defer unlock()

	state, err := o.repo.Load(ctx, id)
	if err != nil {
		o.metrics.IncStoreError("load_state")
		return storeErr("remove conversation", err)
	}

	if err := o.repo.Delete(ctx, id); err != nil {
		o.metrics.IncStoreError("delete_state")
		return storeErr("remove conversation", err)
	}
	if err := o.store.DeleteItems(ctx, id); err != nil {
		o.metrics.IncStoreError("delete_items")
		return storeErr("remove conversation", err)
	}

	if state != nil {
		o.metrics.ConversationRemoved()
		o.emit(EventRemoved, id, "")
		log.Info().Str("conversation_id", id).Msg("conversation removed")
	}
	return nil
}

// GetActiveConversations lists every conversation known to the store. The
// cache is advisory only; other orchestrator instances may have created
// conversations this process never loaded.
func (o *Orchestrator) GetActiveConversations(ctx context.Context) ([]*memory.ConversationState, error) {
	states, err := o.store.ListStates(ctx)
	if err != nil {
		o.metrics.IncStoreError("list_states")
		return nil, storeErr("list conversations", err)
	}
	return states, nil
}
