package scoring

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Strategy keys accepted in configuration.
const (
	StrategyKeyword   = "keyword"
	StrategyEmbedding = "embedding"
)

// NewStrategy constructs the strategy selected by key. Scoring is best-effort
// infrastructure: an unknown key or a missing embedding provider falls back
// to the keyword strategy instead of failing construction.
func NewStrategy(key string, provider EmbeddingProvider, embeddingCacheSize int) Strategy {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", StrategyKeyword:
		return NewKeywordStrategy()
	case StrategyEmbedding:
		if provider == nil {
			log.Warn().Msg("embedding scorer selected but no provider configured, falling back to keyword")
			return NewKeywordStrategy()
		}
		return NewEmbeddingStrategy(provider, embeddingCacheSize)
	default:
		log.Warn().Str("scorer", key).Msg("unknown scoring strategy, falling back to keyword")
		return NewKeywordStrategy()
	}
}
