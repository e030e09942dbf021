package memory

import (
	"strings"
	"time"
)

// ContextType distinguishes the two kinds of durable context items.
type ContextType string

const (
	ContextTypeArchived ContextType = "archived"
	ContextTypeSummary  ContextType = "summary"
)

// Valid reports whether t is one of the known context types.
func (t ContextType) Valid() bool {
	switch t {
	case ContextTypeArchived, ContextTypeSummary:
		return true
	}
	return false
}

// ConversationState tracks the live context window of one conversation.
// TotalWordCount must always equal the sum of word counts of CurrentContext;
// every mutation path either keeps that equality or restores it on failure.
type ConversationState struct {
	ConversationID string    `json:"conversation_id"`
	CurrentContext []string  `json:"current_context"`
	TotalWordCount int       `json:"total_word_count"`
	MaxWordCount   int       `json:"max_word_count"`
	LLM            string    `json:"llm"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Denormalized views of store-held items, loaded on demand for status
	// reporting. Not authoritative and not persisted with the state row.
	ArchivedContext []ArchivedItem `json:"archived_context,omitempty"`
	Summaries       []ArchivedItem `json:"summaries,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely without touching
// the repository cache.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentContext = append([]string(nil), s.CurrentContext...)
	c.ArchivedContext = append([]ArchivedItem(nil), s.ArchivedContext...)
	c.Summaries = append([]ArchivedItem(nil), s.Summaries...)
	return &c
}

// UsageRatio returns TotalWordCount relative to MaxWordCount, 0 when no
// ceiling is configured.
func (s *ConversationState) UsageRatio() float64 {
	if s == nil || s.MaxWordCount <= 0 {
		return 0
	}
	return float64(s.TotalWordCount) / float64(s.MaxWordCount)
}

// ArchivedItem is one archived message or one summary held in the Store.
type ArchivedItem struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
	SummaryText    string      `json:"summary_text,omitempty"`
	ContextType    ContextType `json:"context_type"`
	Tags           []string    `json:"tags"`
	RelevanceScore *float64    `json:"relevance_score,omitempty"`
	ParentID       string      `json:"parent_id,omitempty"`
	WordCount      int         `json:"word_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Content returns the scorable text of the item: the summary text for
// summaries, the raw message text otherwise.
func (i ArchivedItem) Content() string {
	switch i.ContextType {
	case ContextTypeSummary:
		if i.SummaryText != "" {
			return i.SummaryText
		}
		return i.Text
	default:
		return i.Text
	}
}

// ScoredItem pairs an archived item with a freshly computed relevance score.
type ScoredItem struct {
	Item  ArchivedItem `json:"item"`
	Score float64      `json:"score"`
}

// ItemQuery is a conjunctive filter over archived items. Zero-valued fields
// are ignored. Results are ordered by descending relevance score (unscored
// items last) and then by descending creation time.
type ItemQuery struct {
	ConversationID string
	ContextType    ContextType
	AnyTags        []string
	MinScore       *float64
	Limit          int
}

// ScoreUpdate carries one item's new relevance score for a bulk write.
type ScoreUpdate struct {
	ItemID string
	Score  float64
}

// WordCount counts whitespace-separated tokens; the word budget and all
// threshold decisions are defined in terms of it.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// TotalWords sums WordCount over messages.
func TotalWords(messages []string) int {
	total := 0
	for _, m := range messages {
		total += WordCount(m)
	}
	return total
}
