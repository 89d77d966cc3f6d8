package retriever

import (
	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/pkg/types"
)

// buildPackage enforces the token budget over the MMR selection. Critical
// chunks (first-hop dependencies of seeds) claim budget first, so
// truncation always lands on non-critical chunks before it touches the
// critical set. Admitted chunks are emitted in selection order regardless
// of admission order. The package reports how much of the critical set
// survived so callers can detect under-coverage.
func buildPackage(query string, snap *store.Snapshot, selected []selection, budget int) *types.ContextPackage {
	pkg := &types.ContextPackage{
		Query:       query,
		Results:     []types.SelectedChunk{},
		TokenBudget: budget,
	}

	var critical, rest []int
	for i, sel := range selected {
		if sel.critical {
			critical = append(critical, i)
		} else {
			rest = append(rest, i)
		}
	}

	admitted := make([]bool, len(selected))
	used := 0
	count := 0
	admit := func(i int) bool {
		chunk, ok := snap.Get(selected[i].id)
		if !ok {
			return false
		}
		cost := chunk.TokenCount()
		// The first chunk is admitted even over budget; an empty package
		// helps nobody.
		if used+cost > budget && count > 0 {
			return false
		}
		admitted[i] = true
		used += cost
		count++
		return true
	}

	admittedCritical := 0
	for _, i := range critical {
		if admit(i) {
			admittedCritical++
		}
	}
	for _, i := range rest {
		if !admit(i) {
			// Selection order is relevance-informed; once one chunk does
			// not fit, later ones only waste budget on near-misses.
			break
		}
	}

	for i, sel := range selected {
		if !admitted[i] {
			continue
		}
		chunk, _ := snap.Get(sel.id)
		pkg.Results = append(pkg.Results, types.SelectedChunk{
			Chunk:     chunk,
			Relevance: sel.relevance,
			Selection: sel.mmrScore,
			Hops:      sel.hops,
			Critical:  sel.critical,
		})
	}
	pkg.TokensUsed = used

	if len(critical) == 0 {
		pkg.CriticalCoverage = 1
	} else {
		pkg.CriticalCoverage = float64(admittedCritical) / float64(len(critical))
	}

	return pkg
}
