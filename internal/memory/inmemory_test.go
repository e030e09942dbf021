package memory

import (
	"context"
	"testing"
	"time"
)

func scorePtr(v float64) *float64 { return &v }

func TestInMemoryStoreQueryFiltersAndSort(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	items := []ArchivedItem{
		{ID: "a", ConversationID: "c1", Text: "old low", ContextType: ContextTypeArchived, Tags: []string{"general"}, RelevanceScore: scorePtr(0.1), WordCount: 2, CreatedAt: base},
		{ID: "b", ConversationID: "c1", Text: "new high", ContextType: ContextTypeArchived, Tags: []string{"technical"}, RelevanceScore: scorePtr(0.9), WordCount: 2, CreatedAt: base.Add(time.Hour)},
		{ID: "c", ConversationID: "c1", Text: "summary", ContextType: ContextTypeSummary, Tags: []string{"general"}, RelevanceScore: scorePtr(0.5), WordCount: 1, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "d", ConversationID: "c2", Text: "other conversation", ContextType: ContextTypeArchived, Tags: []string{"general"}, WordCount: 2, CreatedAt: base},
	}
	if n, err := s.InsertItems(ctx, items); err != nil || n != 4 {
		t.Fatalf("InsertItems() = %d, %v, want 4, nil", n, err)
	}

	got, err := s.QueryItems(ctx, ItemQuery{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("QueryItems() returned %d items, want 3", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Fatalf("unexpected score order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}

	got, err = s.QueryItems(ctx, ItemQuery{ConversationID: "c1", ContextType: ContextTypeSummary})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("summary filter returned %+v", got)
	}

	got, err = s.QueryItems(ctx, ItemQuery{ConversationID: "c1", AnyTags: []string{"technical"}})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("tag filter returned %+v", got)
	}

	got, err = s.QueryItems(ctx, ItemQuery{ConversationID: "c1", MinScore: scorePtr(0.4), Limit: 1})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("min-score+limit returned %+v", got)
	}
}

func TestInMemoryStoreUnscoredItemsSortLast(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.InsertItems(ctx, []ArchivedItem{
		{ID: "unscored", ConversationID: "c1", ContextType: ContextTypeArchived, CreatedAt: base.Add(time.Hour)},
		{ID: "scored", ConversationID: "c1", ContextType: ContextTypeArchived, RelevanceScore: scorePtr(0.01), CreatedAt: base},
	})
	if err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	got, err := s.QueryItems(ctx, ItemQuery{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if got[0].ID != "scored" || got[1].ID != "unscored" {
		t.Fatalf("unscored item should sort last, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestInMemoryStoreBulkUpdateScores(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, err := s.InsertItems(ctx, []ArchivedItem{
		{ID: "a", ConversationID: "c1", ContextType: ContextTypeArchived},
	})
	if err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	if err := s.BulkUpdateScores(ctx, []ScoreUpdate{{ItemID: "a", Score: 0.75}}); err != nil {
		t.Fatalf("BulkUpdateScores() error = %v", err)
	}
	got, err := s.QueryItems(ctx, ItemQuery{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if got[0].RelevanceScore == nil || *got[0].RelevanceScore != 0.75 {
		t.Fatalf("RelevanceScore = %v, want 0.75", got[0].RelevanceScore)
	}
}

func TestInMemoryStoreLinkParent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, err := s.InsertItems(ctx, []ArchivedItem{
		{ID: "a", ConversationID: "c1", ContextType: ContextTypeArchived},
		{ID: "b", ConversationID: "c1", ContextType: ContextTypeArchived},
	})
	if err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	if err := s.LinkParent(ctx, "c1", []string{"a"}, "summary-1"); err != nil {
		t.Fatalf("LinkParent() error = %v", err)
	}
	got, err := s.QueryItems(ctx, ItemQuery{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	for _, item := range got {
		want := ""
		if item.ID == "a" {
			want = "summary-1"
		}
		if item.ParentID != want {
			t.Fatalf("item %s ParentID = %q, want %q", item.ID, item.ParentID, want)
		}
	}
}

func TestInMemoryStoreStateLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if _, err := s.FindState(ctx, "missing"); err != ErrStateNotFound {
		t.Fatalf("FindState() error = %v, want ErrStateNotFound", err)
	}

	state := &ConversationState{
		ConversationID: "c1",
		CurrentContext: []string{"hello there"},
		TotalWordCount: 2,
		MaxWordCount:   100,
	}
	if err := s.UpsertState(ctx, state); err != nil {
		t.Fatalf("UpsertState() error = %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	state.CurrentContext = append(state.CurrentContext, "mutated")

	got, err := s.FindState(ctx, "c1")
	if err != nil {
		t.Fatalf("FindState() error = %v", err)
	}
	if len(got.CurrentContext) != 1 || got.TotalWordCount != 2 {
		t.Fatalf("unexpected stored state: %+v", got)
	}

	states, err := s.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(states) != 1 || states[0].ConversationID != "c1" {
		t.Fatalf("ListStates() = %+v", states)
	}

	if err := s.DeleteState(ctx, "c1"); err != nil {
		t.Fatalf("DeleteState() error = %v", err)
	}
	if err := s.DeleteState(ctx, "c1"); err != nil {
		t.Fatalf("repeat DeleteState() error = %v, want nil", err)
	}
	if _, err := s.FindState(ctx, "c1"); err != ErrStateNotFound {
		t.Fatalf("FindState() after delete error = %v, want ErrStateNotFound", err)
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  one   two three "); got != 3 {
		t.Fatalf("WordCount = %d, want 3", got)
	}
	if got := WordCount(""); got != 0 {
		t.Fatalf("WordCount(empty) = %d, want 0", got)
	}
	if got := TotalWords([]string{"a b", "c"}); got != 3 {
		t.Fatalf("TotalWords = %d, want 3", got)
	}
}
