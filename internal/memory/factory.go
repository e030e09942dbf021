package memory

import (
	"strings"
	"time"
)

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory. The postgres store connects lazily on first use.
func NewStore(databaseURL string, queryTimeout time.Duration) Store {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore()
	}
	return NewPostgresStore(databaseURL, queryTimeout)
}
