// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package rerank

import (
	"sort"

	"github.com/internalwiki/assistant/retrieval"
)

// Fusion weights. Semantic similarity dominates, lexical match breaks in.
const (
	semanticWeight = 0.6
	lexicalWeight  = 0.4
)

// RankedChunk is a retrieved chunk with its fused score.
type RankedChunk struct {
	retrieval.DocumentChunk
	CombinedScore float64 `json:"combinedScore"`
}

// Input carries the chunks and their parallel score slices. LexicalScores and
// SemanticScores must have the same length and order as Chunks. Limit <= 0
// means no truncation.
type Input struct {
	Chunks         []retrieval.DocumentChunk
	LexicalScores  []float64
	SemanticScores []float64
	Limit          int
}

// Hybrid fuses lexical and semantic scores into one deterministic ranking.
// Each score slice is min-max normalized independently, then combined as a
// weighted sum, so raising either raw score for a chunk never lowers its
// position relative to unchanged chunks. Ties break by original rank, then
// chunk ID.
func Hybrid(in Input) []RankedChunk {
	if len(in.Chunks) == 0 {
		return []RankedChunk{}
	}

	lexical := normalize(in.LexicalScores, len(in.Chunks))
	semantic := normalize(in.SemanticScores, len(in.Chunks))

	ranked := make([]RankedChunk, len(in.Chunks))
	for i, chunk := range in.Chunks {
		ranked[i] = RankedChunk{
			DocumentChunk: chunk,
			CombinedScore: semanticWeight*semantic[i] + lexicalWeight*lexical[i],
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].CombinedScore != ranked[j].CombinedScore {
			return ranked[i].CombinedScore > ranked[j].CombinedScore
		}
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank < ranked[j].Rank
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})

	if in.Limit > 0 && in.Limit < len(ranked) {
		ranked = ranked[:in.Limit]
	}

	return ranked
}

// normalize min-max scales scores into [0,1]. A short or missing slice is
// padded with zeros; a degenerate slice (all values equal) normalizes to 0
// for every chunk, which keeps the fusion order driven by the other signal.
func normalize(scores []float64, n int) []float64 {
	padded := make([]float64, n)
	copy(padded, scores)

	minScore, maxScore := padded[0], padded[0]
	for _, s := range padded[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	if maxScore == minScore {
		return make([]float64, n)
	}

	normalized := make([]float64, n)
	for i, s := range padded {
		normalized[i] = (s - minScore) / (maxScore - minScore)
	}
	return normalized
}
