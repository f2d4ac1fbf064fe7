// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package evidence

import (
	"sort"

	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/rerank"
)

// Reason labels why a chunk was surfaced as evidence.
type Reason string

const (
	ReasonVectorSimilarity Reason = "vector_similarity"
	ReasonTextMatch        Reason = "text_match"
	ReasonTrustedSource    Reason = "trusted_source"
	ReasonRecencyBoost     Reason = "recency_boost"
)

// Excerpt padding on each side of the cited span.
const excerptWindow = 90

// Relevance decay per rank position, floored at 0.1.
const (
	relevanceStep  = 0.15
	relevanceFloor = 0.1
)

// Item is the response-facing wrapper around a chunk: the citation into it,
// an excerpt wide enough to read in context, a relevance score and a
// classification reason. Derived per answer, never persisted on its own.
type Item struct {
	ChunkID       string       `json:"chunkId"`
	DocVersionID  string       `json:"docVersionId"`
	DocumentID    string       `json:"documentId"`
	DocumentTitle string       `json:"documentTitle"`
	ConnectorType string       `json:"connectorType"`
	Author        string       `json:"author"`
	UpdatedAt     string       `json:"updatedAt"`
	SourceURL     string       `json:"sourceUrl"`
	SourceScore   int          `json:"sourceScore"`
	Excerpt       string       `json:"excerpt"`
	Relevance     float64      `json:"relevance"`
	Reason        Reason       `json:"reason"`
	Citation      llm.Citation `json:"citation"`
}

// BuildItems converts ranked chunks into evidence items sorted descending by
// relevance. The reason classification is positional: the top chunk is
// labeled vector_similarity, the second text_match, the third trusted_source
// and the rest recency_boost. A UI labeling heuristic, not a causal claim.
func BuildItems(chunks []rerank.RankedChunk) []Item {
	items := make([]Item, 0, len(chunks))

	for i, chunk := range chunks {
		start, end := excerptBounds(len(chunk.Text), 0, len(chunk.Text))

		items = append(items, Item{
			ChunkID:       chunk.ChunkID,
			DocVersionID:  chunk.DocVersionID,
			DocumentID:    chunk.DocumentID,
			DocumentTitle: chunk.DocumentTitle,
			ConnectorType: chunk.ConnectorType,
			Author:        chunk.Author,
			UpdatedAt:     chunk.UpdatedAt,
			SourceURL:     chunk.SourceURL,
			SourceScore:   chunk.SourceScore,
			Excerpt:       chunk.Text[start:end],
			Relevance:     relevanceAt(i),
			Reason:        reasonAt(i),
			Citation: llm.Citation{
				ChunkID:      chunk.ChunkID,
				DocVersionID: chunk.DocVersionID,
				SourceURL:    chunk.SourceURL,
				StartOffset:  start,
				EndOffset:    end,
			},
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Relevance > items[j].Relevance
	})

	return items
}

// excerptBounds widens [citationStart, citationEnd) by the excerpt window on
// each side, clipped to the chunk text.
func excerptBounds(textLen, citationStart, citationEnd int) (int, int) {
	start := citationStart - excerptWindow
	if start < 0 {
		start = 0
	}
	end := citationEnd + excerptWindow
	if end > textLen {
		end = textLen
	}
	return start, end
}

func relevanceAt(index int) float64 {
	relevance := 1 - float64(index)*relevanceStep
	if relevance < relevanceFloor {
		return relevanceFloor
	}
	return relevance
}

func reasonAt(index int) Reason {
	switch index {
	case 0:
		return ReasonVectorSimilarity
	case 1:
		return ReasonTextMatch
	case 2:
		return ReasonTrustedSource
	default:
		return ReasonRecencyBoost
	}
}
