package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/pkg/types"
)

// Lambda presets for the relevance/diversity trade-off.
const (
	LambdaFocused  = 0.9 // Targeted lookups: relevance-biased
	LambdaBalanced = 0.7 // Default
	LambdaExplore  = 0.4 // Broad exploration: diversity-biased
)

var (
	// ErrNotConfigured is returned when the retriever is missing its store
	// or embedder.
	ErrNotConfigured = errors.New("retriever not configured")
)

// QueryEmbedder embeds query text. *pool.Pool satisfies this.
type QueryEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the retriever.
type Config struct {
	SeedCount int           // Top-N seeds from similarity ranking (default 10)
	HopDecay  float64       // Relevance multiplier per relationship hop (default 0.5)
	CacheSize int           // Query cache entries (default 1000)
	CacheTTL  time.Duration // Query cache lifetime (default 5m)
}

// DefaultConfig returns retriever defaults.
func DefaultConfig() Config {
	return Config{
		SeedCount: 10,
		HopDecay:  0.5,
		CacheSize: 1000,
		CacheTTL:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SeedCount <= 0 {
		c.SeedCount = d.SeedCount
	}
	if c.HopDecay <= 0 || c.HopDecay >= 1 {
		c.HopDecay = d.HopDecay
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Options are per-search parameters.
type Options struct {
	MaxChunks   int     // Selection cap (default 20)
	TokenBudget int     // Estimated-token budget for the package (default 4000)
	Lambda      float64 // MMR lambda; use the presets (default LambdaBalanced)
	MaxHops     int     // Relationship expansion depth (default 1; negative disables)
	UseCache    bool
}

func (o Options) withDefaults() Options {
	if o.MaxChunks <= 0 {
		o.MaxChunks = 20
	}
	if o.TokenBudget <= 0 {
		o.TokenBudget = 4000
	}
	if o.Lambda <= 0 || o.Lambda > 1 {
		o.Lambda = LambdaBalanced
	}
	switch {
	case o.MaxHops == 0:
		o.MaxHops = 1
	case o.MaxHops < 0:
		o.MaxHops = 0
	}
	return o
}

// Retriever turns queries into token-budgeted context packages. It only
// ever reads store state.
type Retriever struct {
	store    *store.Store
	embedder QueryEmbedder
	cfg      Config
	logger   *slog.Logger
	cache    *queryCache
}

// New creates a retriever over a store and a query embedder.
func New(st *store.Store, embedder QueryEmbedder, cfg Config, logger *slog.Logger) (*Retriever, error) {
	if st == nil || embedder == nil {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	cache, err := newQueryCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &Retriever{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
	}, nil
}

// Search runs the four retrieval stages: seed ranking, relationship
// expansion, MMR selection, and budget enforcement. An empty store yields
// an empty package; a query embedding failure is an error, never a bogus
// ranking dressed up as success.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) (*types.ContextPackage, error) {
	start := time.Now()

	if query == "" {
		return nil, types.ErrEmptyQuery
	}
	opts = opts.withDefaults()

	snap := r.store.Snapshot()
	if len(snap.Chunks) == 0 {
		return &types.ContextPackage{
			Query:            query,
			Results:          []types.SelectedChunk{},
			TokenBudget:      opts.TokenBudget,
			CriticalCoverage: 1,
			Duration:         time.Since(start),
		}, nil
	}

	if opts.UseCache {
		if pkg, ok := r.cache.get(query, opts, snap.TakenAt); ok {
			return pkg, nil
		}
	}

	vectors, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrQueryEmbedding, err)
	}
	queryVec := vectors[0]

	seeds := r.rankSeeds(snap, queryVec, r.cfg.SeedCount)
	candidates := r.expand(snap, seeds, opts.MaxHops)
	selected := mmrSelect(snap, candidates, opts.Lambda, opts.MaxChunks)
	pkg := buildPackage(query, snap, selected, opts.TokenBudget)
	pkg.Duration = time.Since(start)

	if opts.UseCache {
		r.cache.put(query, opts, snap.TakenAt, pkg)
	}

	r.logger.Debug("search complete", "query_len", len(query),
		"seeds", len(seeds), "candidates", len(candidates),
		"selected", len(pkg.Results), "tokens", pkg.TokensUsed)
	return pkg, nil
}

// rankSeeds scores every stored chunk against the query vector and keeps
// the top-N.
func (r *Retriever) rankSeeds(snap *store.Snapshot, queryVec []float32, n int) []scoredChunk {
	scored := make([]scoredChunk, 0, len(snap.Chunks))
	for _, c := range snap.Chunks {
		sim := cosineSimilarity(queryVec, c.Embedding)
		scored = append(scored, scoredChunk{id: c.ID, relevance: sim})
	}

	sortByRelevance(scored)
	if n < len(scored) {
		scored = scored[:n]
	}
	return scored
}
