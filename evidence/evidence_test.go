// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/rerank"
	"github.com/internalwiki/assistant/retrieval"
)

func ranked(id, text string, rank int) rerank.RankedChunk {
	return rerank.RankedChunk{
		DocumentChunk: retrieval.DocumentChunk{
			ChunkID:      id,
			DocVersionID: "v-" + id,
			Text:         text,
			Rank:         rank,
			SourceURL:    "https://wiki.example.com/" + id,
		},
	}
}

func TestBuildItemsClassificationAndDecay(t *testing.T) {
	chunks := []rerank.RankedChunk{
		ranked("c0", "first", 0),
		ranked("c1", "second", 1),
		ranked("c2", "third", 2),
		ranked("c3", "fourth", 3),
		ranked("c4", "fifth", 4),
	}

	items := BuildItems(chunks)
	require.Len(t, items, 5)

	assert.Equal(t, ReasonVectorSimilarity, items[0].Reason)
	assert.Equal(t, ReasonTextMatch, items[1].Reason)
	assert.Equal(t, ReasonTrustedSource, items[2].Reason)
	assert.Equal(t, ReasonRecencyBoost, items[3].Reason)
	assert.Equal(t, ReasonRecencyBoost, items[4].Reason)

	assert.InDelta(t, 1.0, items[0].Relevance, 1e-9)
	assert.InDelta(t, 0.85, items[1].Relevance, 1e-9)
	assert.InDelta(t, 0.70, items[2].Relevance, 1e-9)
}

func TestBuildItemsSortedDescendingByRelevance(t *testing.T) {
	var chunks []rerank.RankedChunk
	for i := range 10 {
		chunks = append(chunks, ranked(string(rune('a'+i)), "text", i))
	}

	items := BuildItems(chunks)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Relevance, items[i].Relevance)
	}
}

func TestBuildItemsRelevanceFloor(t *testing.T) {
	var chunks []rerank.RankedChunk
	for i := range 12 {
		chunks = append(chunks, ranked(string(rune('a'+i)), "text", i))
	}

	items := BuildItems(chunks)
	for _, item := range items {
		assert.GreaterOrEqual(t, item.Relevance, 0.1)
	}
	// Far down the list the floor holds.
	assert.InDelta(t, 0.1, items[len(items)-1].Relevance, 1e-9)
}

func TestBuildItemsExcerptContainedInChunk(t *testing.T) {
	long := strings.Repeat("internal wiki content. ", 30)
	chunks := []rerank.RankedChunk{
		ranked("short", "tiny", 0),
		ranked("long", long, 1),
	}

	items := BuildItems(chunks)
	for _, item := range items {
		var source string
		for _, c := range chunks {
			if c.ChunkID == item.ChunkID {
				source = c.Text
			}
		}
		assert.Contains(t, source, item.Excerpt)
		assert.GreaterOrEqual(t, item.Citation.StartOffset, 0)
		assert.GreaterOrEqual(t, item.Citation.EndOffset, item.Citation.StartOffset)
		assert.LessOrEqual(t, item.Citation.EndOffset, len(source))
	}
}

func TestBuildItemsEmpty(t *testing.T) {
	assert.Empty(t, BuildItems(nil))
}
