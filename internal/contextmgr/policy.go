package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/contextd/contextd/internal/memory"
)

// Policy holds the numeric knobs of the eviction/reinstatement policy. Read
// once at startup, immutable afterwards.
type Policy struct {
	// ArchiveThreshold is the usage ratio at or above which archiving kicks in.
	ArchiveThreshold float64
	// ArchivePercentage is the fraction of the live window evicted per pass.
	ArchivePercentage float64
	// RetrieveThreshold is the usage ratio above which there is no room to
	// retrieve.
	RetrieveThreshold float64
	// MinRelevanceScore gates which scored items qualify for retrieval.
	MinRelevanceScore float64
	// RetrieveLimit caps items reinstated per pass.
	RetrieveLimit int
	// SummaryThreshold / SummaryLimit bound which archived items a summary
	// folds in.
	SummaryThreshold float64
	SummaryLimit     int
	// DefaultMaxWordCount seeds new conversations; the ceiling is fixed for
	// a conversation's lifetime once set.
	DefaultMaxWordCount int
}

func DefaultPolicy() Policy {
	return Policy{
		ArchiveThreshold:    0.8,
		ArchivePercentage:   0.3,
		RetrieveThreshold:   0.3,
		MinRelevanceScore:   0.2,
		RetrieveLimit:       5,
		SummaryThreshold:    0.1,
		SummaryLimit:        10,
		DefaultMaxWordCount: 2000,
	}
}

// ArchiveDecision is the outcome of the archive policy check. Candidates are
// fully built (tagged, word-counted) but not yet written anywhere.
type ArchiveDecision struct {
	ShouldArchive bool                  `json:"should_archive"`
	Candidates    []memory.ArchivedItem `json:"candidates,omitempty"`
	Reason        string                `json:"reason"`
}

// RetrievalDecision is the outcome of the retrieve policy check, carrying the
// scored items that qualified, highest score first.
type RetrievalDecision struct {
	ShouldRetrieve bool                `json:"should_retrieve"`
	Items          []memory.ScoredItem `json:"items,omitempty"`
	Reason         string              `json:"reason"`
}

// evaluateArchive applies the archive policy: at or above the usage threshold
// the oldest ArchivePercentage fraction of the window becomes the candidate
// set. Eviction is always oldest-first; recency correlates with relevance to
// the ongoing exchange.
func (o *Orchestrator) evaluateArchive(state *memory.ConversationState) ArchiveDecision {
	ratio := state.UsageRatio()
	if ratio < o.policy.ArchiveThreshold {
		return ArchiveDecision{
			Reason: fmt.Sprintf("usage %.2f below archive threshold %.2f", ratio, o.policy.ArchiveThreshold),
		}
	}

	count := int(float64(len(state.CurrentContext)) * o.policy.ArchivePercentage)
	if count <= 0 {
		return ArchiveDecision{
			Reason: fmt.Sprintf("usage %.2f over threshold but window of %d messages yields no candidates", ratio, len(state.CurrentContext)),
		}
	}

	now := time.Now().UTC()
	candidates := make([]memory.ArchivedItem, 0, count)
	for _, msg := range state.CurrentContext[:count] {
		candidates = append(candidates, memory.ArchivedItem{
			ID:             uuid.NewString(),
			ConversationID: state.ConversationID,
			Text:           msg,
			ContextType:    memory.ContextTypeArchived,
			Tags:           categorizeTags(msg),
			WordCount:      memory.WordCount(msg),
			CreatedAt:      now,
		})
	}
	return ArchiveDecision{
		ShouldArchive: true,
		Candidates:    candidates,
		Reason:        fmt.Sprintf("usage %.2f at or over archive threshold %.2f, evicting oldest %d of %d messages", ratio, o.policy.ArchiveThreshold, count, len(state.CurrentContext)),
	}
}

// evaluateRetrieval applies the retrieve policy: with enough headroom, every
// archived item is re-scored against the joined live context, the fresh
// scores are persisted, and the best qualifiers are selected.
func (o *Orchestrator) evaluateRetrieval(ctx context.Context, state *memory.ConversationState) (RetrievalDecision, error) {
	ratio := state.UsageRatio()
	if ratio > o.policy.RetrieveThreshold {
		return RetrievalDecision{
			Reason: fmt.Sprintf("usage %.2f above retrieve threshold %.2f, no room to retrieve", ratio, o.policy.RetrieveThreshold),
		}, nil
	}

	items, err := o.store.QueryItems(ctx, memory.ItemQuery{ConversationID: state.ConversationID})
	if err != nil {
		o.metrics.IncStoreError("query_items")
		return RetrievalDecision{}, storeErr("evaluate retrieval", err)
	}
	if len(items) == 0 {
		return RetrievalDecision{Reason: "no archived items to retrieve"}, nil
	}

	query := strings.Join(state.CurrentContext, " ")
	start := time.Now()
	scored, err := o.scorer.ScoreRelevance(ctx, query, items)
	o.metrics.ObserveScoring(time.Since(start))
	if err != nil {
		// Scoring is best-effort: degrade to a negative decision rather than
		// failing the caller's operation.
		log.Warn().Err(err).Str("conversation_id", state.ConversationID).Msg("relevance scoring failed")
		return RetrievalDecision{Reason: "relevance scoring failed"}, nil
	}

	updates := make([]memory.ScoreUpdate, 0, len(scored))
	for _, s := range scored {
		updates = append(updates, memory.ScoreUpdate{ItemID: s.Item.ID, Score: s.Score})
	}
	if err := o.store.BulkUpdateScores(ctx, updates); err != nil {
		o.metrics.IncStoreError("bulk_update_scores")
		return RetrievalDecision{}, storeErr("persist relevance scores", err)
	}

	selected := make([]memory.ScoredItem, 0, o.policy.RetrieveLimit)
	for _, s := range scored {
		if s.Score < o.policy.MinRelevanceScore {
			continue
		}
		selected = append(selected, s)
		if len(selected) >= o.policy.RetrieveLimit {
			break
		}
	}
	if len(selected) == 0 {
		return RetrievalDecision{
			Reason: fmt.Sprintf("no archived item scored at least %.2f", o.policy.MinRelevanceScore),
		}, nil
	}
	return RetrievalDecision{
		ShouldRetrieve: true,
		Items:          selected,
		Reason:         fmt.Sprintf("usage %.2f within retrieve threshold %.2f, %d relevant items", ratio, o.policy.RetrieveThreshold, len(selected)),
	}, nil
}
