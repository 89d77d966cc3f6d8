package retriever

import "github.com/codelens-dev/codelens/internal/store"

// selection is a chunk picked by MMR with its score at pick time.
type selection struct {
	scoredChunk
	mmrScore float64
}

// mmrSelect applies Maximal Marginal Relevance over the candidate set:
// iteratively pick the candidate maximizing
//
//	lambda*relevance(c) - (1-lambda)*maxSim(c, selected)
//
// where maxSim is cosine similarity against the embeddings of chunks chosen
// so far. High lambda favors raw relevance, low lambda favors diversity.
// Selection stops at k chunks or when candidates run out.
func mmrSelect(snap *store.Snapshot, candidates []scoredChunk, lambda float64, k int) []selection {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	// Normalize relevance to [0,1] so it trades off against similarity on
	// the same scale.
	maxRel := candidates[0].relevance
	for _, c := range candidates {
		if c.relevance > maxRel {
			maxRel = c.relevance
		}
	}
	if maxRel <= 0 {
		maxRel = 1
	}

	selected := make([]selection, 0, k)
	remaining := make([]scoredChunk, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0

		for i, cand := range remaining {
			chunk, ok := snap.Get(cand.id)
			if !ok {
				continue
			}

			maxSim := 0.0
			for _, sel := range selected {
				selChunk, ok := snap.Get(sel.id)
				if !ok {
					continue
				}
				if sim := cosineSimilarity(chunk.Embedding, selChunk.Embedding); sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*(cand.relevance/maxRel) - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			break
		}

		selected = append(selected, selection{
			scoredChunk: remaining[bestIdx],
			mmrScore:    bestScore,
		})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}
