package retriever

import (
	"math"
	"sort"

	"github.com/codelens-dev/codelens/internal/store"
)

// scoredChunk carries a candidate through the retrieval stages.
type scoredChunk struct {
	id        string
	relevance float64
	hops      int  // Relationship distance from the nearest seed
	critical  bool // Direct first-hop dependency of a seed
}

// expand walks relationship edges outward from each seed up to maxHops.
// Each hop discounts the originating seed's relevance by the configured
// decay, so directly related chunks outrank transitively related ones. A
// chunk reachable several ways keeps its best score and shortest distance.
func (r *Retriever) expand(snap *store.Snapshot, seeds []scoredChunk, maxHops int) []scoredChunk {
	best := make(map[string]*scoredChunk, len(seeds)*2)
	for i := range seeds {
		s := seeds[i]
		best[s.id] = &s
	}

	if maxHops > 0 {
		for _, seed := range seeds {
			frontier := []string{seed.id}
			visited := map[string]struct{}{seed.id: {}}
			score := seed.relevance

			for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
				score *= r.cfg.HopDecay
				var next []string

				for _, id := range frontier {
					for _, nb := range snap.Neighbors(id) {
						if _, seen := visited[nb]; seen {
							continue
						}
						visited[nb] = struct{}{}
						next = append(next, nb)

						cur, ok := best[nb]
						switch {
						case !ok:
							best[nb] = &scoredChunk{id: nb, relevance: score, hops: hop, critical: hop == 1}
						default:
							if score > cur.relevance {
								cur.relevance = score
							}
							if hop < cur.hops {
								cur.hops = hop
							}
							if hop == 1 {
								cur.critical = true
							}
						}
					}
				}
				frontier = next
			}
		}
	}

	out := make([]scoredChunk, 0, len(best))
	for _, c := range best {
		// Seeds are their own reason to exist; a seed that is also a
		// first-hop neighbor of another seed counts as critical.
		out = append(out, *c)
	}
	sortByRelevance(out)
	return out
}

// sortByRelevance orders by score descending, ID ascending for determinism.
func sortByRelevance(chunks []scoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].relevance != chunks[j].relevance {
			return chunks[i].relevance > chunks[j].relevance
		}
		return chunks[i].id < chunks[j].id
	})
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
