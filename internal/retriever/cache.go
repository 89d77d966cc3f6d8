package retriever

import (
	"crypto/sha256"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codelens-dev/codelens/pkg/types"
)

// cacheEntry is a cached package plus its expiry and the snapshot it was
// computed against. A newer snapshot invalidates the entry regardless of TTL.
type cacheEntry struct {
	pkg       *types.ContextPackage
	snapTaken time.Time
	expiresAt time.Time
}

// queryCache is an LRU of recent search results keyed by query and options.
type queryCache struct {
	cache *lru.Cache[[32]byte, *cacheEntry]
	ttl   time.Duration
}

func newQueryCache(size int, ttl time.Duration) (*queryCache, error) {
	cache, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &queryCache{cache: cache, ttl: ttl}, nil
}

func cacheKeyFor(query string, opts Options) [32]byte {
	return sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%.3f|%d",
		query, opts.MaxChunks, opts.TokenBudget, opts.Lambda, opts.MaxHops))
}

// get returns a cached package when it is fresh and was built against the
// same store snapshot.
func (qc *queryCache) get(query string, opts Options, snapTaken time.Time) (*types.ContextPackage, bool) {
	entry, ok := qc.cache.Get(cacheKeyFor(query, opts))
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) || !entry.snapTaken.Equal(snapTaken) {
		qc.cache.Remove(cacheKeyFor(query, opts))
		return nil, false
	}
	return entry.pkg, true
}

func (qc *queryCache) put(query string, opts Options, snapTaken time.Time, pkg *types.ContextPackage) {
	qc.cache.Add(cacheKeyFor(query, opts), &cacheEntry{
		pkg:       pkg,
		snapTaken: snapTaken,
		expiresAt: time.Now().Add(qc.ttl),
	})
}
