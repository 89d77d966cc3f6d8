// Package retriever implements the retrieval engine: query to
// token-budgeted context package, in four stages.
//
// Stage 1 embeds the query through the pool and ranks every stored chunk by
// cosine similarity, keeping the top seeds. Stage 2 expands outward along
// declared relationship edges up to a hop limit, discounting relevance per
// hop; first-hop neighbors of seeds form the critical set. Stage 3 runs
// Maximal Marginal Relevance selection, trading relevance against diversity
// from already-chosen chunks via the lambda parameter (presets
// LambdaFocused, LambdaBalanced, LambdaExplore). Stage 4 packs the
// selection into the token budget, admitting critical chunks before
// anything else competes for space.
//
// The retriever never mutates store state; it reads immutable snapshots.
// Results for repeated queries are served from an LRU cache that a
// store commit implicitly invalidates.
package retriever
