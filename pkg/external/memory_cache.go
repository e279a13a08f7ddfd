package external

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cart-safety-engine/internal/domain"
)

// MemoryCache is a bounded in-process TTL cache for report counts. It backs
// the Redis tier so repeated screenings of the same pair within one process
// never touch the network, and stands alone when no Redis URL is configured.
type MemoryCache struct {
	lru *expirable.LRU[string, domain.ReportCounts]
}

// NewMemoryCache creates an in-process cache holding up to size pairs for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, domain.ReportCounts](size, nil, ttl),
	}
}

// Get retrieves cached counts for a product-reaction pair.
func (m *MemoryCache) Get(drug, event string) (*domain.ReportCounts, bool) {
	counts, ok := m.lru.Get(memoryKey(drug, event))
	if !ok {
		return nil, false
	}
	return &counts, true
}

// Set caches counts for a product-reaction pair.
func (m *MemoryCache) Set(drug, event string, data *domain.ReportCounts) {
	if data == nil {
		return
	}
	m.lru.Add(memoryKey(drug, event), *data)
}

// Purge drops every cached pair.
func (m *MemoryCache) Purge() {
	m.lru.Purge()
}

func memoryKey(drug, event string) string {
	return strings.ToLower(drug) + "|" + strings.ToLower(event)
}
