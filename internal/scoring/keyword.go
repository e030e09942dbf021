package scoring

import (
	"context"
	"sort"
	"strings"

	"github.com/contextd/contextd/internal/memory"
)

// KeywordStrategy scores by Jaccard similarity of lower-cased whitespace
// token sets. Identical sets score exactly 1.0, disjoint sets exactly 0.0,
// and two empty sets score 0 rather than NaN.
type KeywordStrategy struct{}

func NewKeywordStrategy() KeywordStrategy { return KeywordStrategy{} }

func (KeywordStrategy) Name() string { return "keyword" }

func (KeywordStrategy) ScoreRelevance(_ context.Context, query string, items []memory.ArchivedItem) ([]memory.ScoredItem, error) {
	querySet := tokenSet(query)

	scored := make([]memory.ScoredItem, 0, len(items))
	for _, item := range items {
		scored = append(scored, memory.ScoredItem{
			Item:  item,
			Score: jaccard(querySet, tokenSet(item.Content())),
		})
	}
	sortScored(scored)
	return scored, nil
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// sortScored orders by descending score, ties broken by most recent item.
func sortScored(scored []memory.ScoredItem) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
	})
}
