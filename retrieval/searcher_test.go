// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/embeddings"
	"github.com/internalwiki/assistant/logger"
)

type fakeStore struct {
	result    *SearchResult
	documents []DocumentSummary

	lastEmbedding []float32
	searchCalls   int
}

func (f *fakeStore) HybridSearch(_ context.Context, _ SearchRequest, queryEmbedding []float32) (*SearchResult, error) {
	f.searchCalls++
	f.lastEmbedding = queryEmbedding
	if f.result == nil {
		return &SearchResult{Chunks: []DocumentChunk{}, LexicalScores: []float64{}, SemanticScores: []float64{}}, nil
	}
	return f.result, nil
}

func (f *fakeStore) ListDocumentSummaries(_ context.Context, _ string, limit int) ([]DocumentSummary, error) {
	if limit < len(f.documents) {
		return f.documents[:limit], nil
	}
	return f.documents, nil
}

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	return "summary of: " + text[:min(20, len(text))], nil
}

func newTestSearcher(store SearchStore, summarizer Summarizer) *Searcher {
	embedder := embeddings.NewEmbedder(nil, logger.NewNop())
	return NewSearcher(store, embedder, summarizer, "", logger.NewNop())
}

func TestSearchRequiresOrganization(t *testing.T) {
	searcher := newTestSearcher(&fakeStore{}, nil)

	_, err := searcher.Search(context.Background(), SearchRequest{Question: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization")
}

func TestSearchUsesDeterministicDefaultEmbedding(t *testing.T) {
	store := &fakeStore{result: &SearchResult{
		Chunks:         []DocumentChunk{{ChunkID: "c1", Text: "hit"}},
		LexicalScores:  []float64{0.5},
		SemanticScores: []float64{0.9},
	}}
	searcher := newTestSearcher(store, nil)

	req := SearchRequest{OrganizationID: "org1", Question: "how do deploys work?"}
	_, err := searcher.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, store.lastEmbedding, 1536)
	first := append([]float32{}, store.lastEmbedding...)

	_, err = searcher.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, store.lastEmbedding)
}

func TestSearchSuppliedEmbeddingIsUsed(t *testing.T) {
	store := &fakeStore{result: &SearchResult{
		Chunks:         []DocumentChunk{{ChunkID: "c1", Text: "hit"}},
		LexicalScores:  []float64{0.5},
		SemanticScores: []float64{0.9},
	}}
	searcher := newTestSearcher(store, nil)

	supplied := []float32{0.1, 0.2, 0.3}
	_, err := searcher.Search(context.Background(), SearchRequest{
		OrganizationID: "org1",
		Question:       "q",
		QueryEmbedding: supplied,
	})
	require.NoError(t, err)
	assert.Equal(t, supplied, store.lastEmbedding)
}

func TestSearchFallbackSynthesizesPseudoChunks(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		documents: []DocumentSummary{
			{DocumentID: "d1", DocVersionID: "v1", Title: "Runbook", Summary: "How we run deploys.", UpdatedAt: now.Format(time.RFC3339)},
			{DocumentID: "d2", DocVersionID: "v2", Title: "Rollback guide", Content: "Step one: find the release. Step two: revert it.", UpdatedAt: now.Format(time.RFC3339)},
			{DocumentID: "d3", DocVersionID: "v3", Title: "Empty doc", UpdatedAt: now.Format(time.RFC3339)},
			{DocumentID: "d4", DocVersionID: "v4", Title: "Old notes", UpdatedAt: "not-a-date"},
			{DocumentID: "d5", DocVersionID: "v5", Title: "Beyond the limit"},
		},
	}
	summarizer := &fakeSummarizer{}
	searcher := newTestSearcher(store, summarizer)

	result, err := searcher.Search(context.Background(), SearchRequest{OrganizationID: "org1", Question: "deploys"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	require.Len(t, result.Chunks, 4)

	// Stored summary is used directly.
	assert.Equal(t, "How we run deploys.", result.Chunks[0].Text)
	// Missing summary with content goes through the summarizer.
	assert.True(t, strings.HasPrefix(result.Chunks[1].Text, "summary of:"))
	assert.Equal(t, 1, summarizer.calls)
	// No summary and no content gets an explicit placeholder.
	assert.Contains(t, result.Chunks[2].Text, "No summary is available")

	// Pseudo-chunks are scored on the fly; an unparseable date stays cheap.
	assert.Greater(t, result.Chunks[0].SourceScore, result.Chunks[3].SourceScore)

	for i, chunk := range result.Chunks {
		assert.Equal(t, i, chunk.Rank)
		assert.True(t, strings.HasPrefix(chunk.ChunkID, "doc-summary:"))
	}
}

func TestSearchFallbackWithNoDocuments(t *testing.T) {
	searcher := newTestSearcher(&fakeStore{}, nil)

	result, err := searcher.Search(context.Background(), SearchRequest{OrganizationID: "org1", Question: "q"})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Empty(t, result.Chunks)
}

func TestSearchRequestCacheKey(t *testing.T) {
	a := SearchRequest{OrganizationID: "org1", Question: "deploys"}
	b := SearchRequest{OrganizationID: "org1", Question: "deploys"}
	c := SearchRequest{OrganizationID: "org1", Question: "rollbacks"}
	d := SearchRequest{OrganizationID: "org2", Question: "deploys"}

	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.NotEqual(t, a.CacheKey(), d.CacheKey())
	assert.True(t, strings.HasPrefix(a.CacheKey(), "retrieval:org1:"))
}
