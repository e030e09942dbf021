package scoring

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/contextd/contextd/internal/memory"
)

// EmbeddingProvider turns text into a fixed-length vector. The contextd
// deployment backs this with the SBERT sidecar service.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

const defaultEmbeddingCacheSize = 512

// EmbeddingStrategy scores by cosine similarity between provider embeddings,
// normalized from [-1,1] to [0,1]. Scoring fails closed: a provider error for
// one item zeroes that item's score and the batch continues.
type EmbeddingStrategy struct {
	provider EmbeddingProvider

	mu       sync.Mutex
	cache    map[string][]float64 // keyed by item id
	order    []string             // insertion order, oldest first
	maxCache int
}

func NewEmbeddingStrategy(provider EmbeddingProvider, cacheSize int) *EmbeddingStrategy {
	if cacheSize <= 0 {
		cacheSize = defaultEmbeddingCacheSize
	}
	return &EmbeddingStrategy{
		provider: provider,
		cache:    make(map[string][]float64),
		maxCache: cacheSize,
	}
}

func (s *EmbeddingStrategy) Name() string { return "embedding" }

func (s *EmbeddingStrategy) ScoreRelevance(ctx context.Context, query string, items []memory.ArchivedItem) ([]memory.ScoredItem, error) {
	scored := make([]memory.ScoredItem, 0, len(items))

	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		// Without a query embedding nothing can be ranked; degrade the whole
		// batch to zero scores instead of aborting retrieval.
		log.Warn().Err(err).Msg("query embedding failed, scoring batch as zero")
		for _, item := range items {
			scored = append(scored, memory.ScoredItem{Item: item})
		}
		return scored, nil
	}

	for _, item := range items {
		vec, err := s.itemEmbedding(ctx, item)
		if err != nil {
			log.Warn().Err(err).Str("item_id", item.ID).Msg("item embedding failed, scoring as zero")
			scored = append(scored, memory.ScoredItem{Item: item})
			continue
		}
		scored = append(scored, memory.ScoredItem{
			Item:  item,
			Score: normalizedCosine(queryVec, vec),
		})
	}
	sortScored(scored)
	return scored, nil
}

// Precompute warms the embedding cache for uncached items in one batch call.
func (s *EmbeddingStrategy) Precompute(ctx context.Context, _ string, items []memory.ArchivedItem) error {
	var (
		missing []memory.ArchivedItem
		texts   []string
	)
	s.mu.Lock()
	for _, item := range items {
		if _, ok := s.cache[item.ID]; !ok {
			missing = append(missing, item)
			texts = append(texts, item.Content())
		}
	}
	s.mu.Unlock()
	if len(missing) == 0 {
		return nil
	}

	vectors, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range missing {
		if i >= len(vectors) {
			break
		}
		s.put(item.ID, vectors[i])
	}
	return nil
}

func (s *EmbeddingStrategy) itemEmbedding(ctx context.Context, item memory.ArchivedItem) ([]float64, error) {
	s.mu.Lock()
	vec, ok := s.cache[item.ID]
	s.mu.Unlock()
	if ok {
		return vec, nil
	}

	vec, err := s.provider.Embed(ctx, item.Content())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.put(item.ID, vec)
	s.mu.Unlock()
	return vec, nil
}

// put inserts under s.mu, evicting oldest entries once over capacity.
func (s *EmbeddingStrategy) put(id string, vec []float64) {
	if _, ok := s.cache[id]; !ok {
		s.order = append(s.order, id)
	}
	s.cache[id] = vec
	for len(s.cache) > s.maxCache && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
}

// CachedEmbeddings reports the current cache population.
func (s *EmbeddingStrategy) CachedEmbeddings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// normalizedCosine maps cosine similarity from [-1,1] to [0,1], clamped.
// Zero-magnitude vectors score 0.
func normalizedCosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	score := (cos + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
