package types

import "time"

// SelectedChunk is a chunk chosen for a context package, carrying the scores
// that led to its selection.
type SelectedChunk struct {
	Chunk Chunk

	// Relevance is the query-similarity score, hop-discounted for chunks
	// reached through relationship expansion.
	Relevance float64

	// Selection is the diversity-adjusted MMR score at the moment the chunk
	// was picked.
	Selection float64

	// Hops is the relationship distance from the nearest seed (0 = seed).
	Hops int

	// Critical marks first-hop dependencies of seeds, protected from
	// budget truncation.
	Critical bool
}

// ContextPackage is the ordered, budget-constrained result of a search.
// Created fresh per query; never persisted.
type ContextPackage struct {
	Query   string
	Results []SelectedChunk

	// Aggregate stats
	TokensUsed       int
	TokenBudget      int
	CriticalCoverage float64 // Fraction of the critical set that fit the budget
	Duration         time.Duration
}

// IsEmpty reports whether the package contains no chunks.
func (p *ContextPackage) IsEmpty() bool {
	return len(p.Results) == 0
}

// TokenUtilization returns used/budget in [0,1], or 0 for a zero budget.
func (p *ContextPackage) TokenUtilization() float64 {
	if p.TokenBudget <= 0 {
		return 0
	}
	return float64(p.TokensUsed) / float64(p.TokenBudget)
}
