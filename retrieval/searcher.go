// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/embeddings"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/scoring"
)

// Number of documents the zero-result fallback summarizes.
const fallbackDocumentLimit = 4

// Neutral authority factors for pseudo-chunks scored on the fly.
const (
	fallbackSourceAuthority = 0.5
	fallbackAuthorAuthority = 0.5
)

// SearchStore is the backing index contract the searcher depends on.
type SearchStore interface {
	HybridSearch(ctx context.Context, req SearchRequest, queryEmbedding []float32) (*SearchResult, error)
	ListDocumentSummaries(ctx context.Context, organizationID string, limit int) ([]DocumentSummary, error)
}

// Summarizer condenses document content for fallback pseudo-chunks.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Searcher runs hybrid retrieval with the fallback policy: hybrid search
// first, document summaries when nothing is indexed. It never dead-ends
// silently; an empty result means the organization truly has no documents.
type Searcher struct {
	store      SearchStore
	embedder   *embeddings.Embedder
	summarizer Summarizer
	apiKey     string
	now        func() time.Time
	log        logger.Logger
}

// NewSearcher creates a Searcher. summarizer may be nil; fallback then uses
// stored summaries and placeholders only.
func NewSearcher(store SearchStore, embedder *embeddings.Embedder, summarizer Summarizer, apiKey string, log logger.Logger) *Searcher {
	return &Searcher{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		apiKey:     apiKey,
		now:        time.Now,
		log:        log,
	}
}

// Search retrieves up to MaxChunks ranked chunks for the request. A missing
// query embedding defaults to the deterministic fallback embedding so
// retrieval works without a live embedding provider and stays reproducible.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}

	embedding := req.QueryEmbedding
	if len(embedding) == 0 {
		var err error
		embedding, err = s.embedder.EmbedQuery(ctx, req.Question, s.apiKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed query")
		}
	}

	result, err := s.store.HybridSearch(ctx, req, embedding)
	if err != nil {
		return nil, err
	}

	if len(result.Chunks) > 0 {
		return result, nil
	}

	s.log.Debug("hybrid search returned no chunks, falling back to document summaries",
		"organization_id", req.OrganizationID,
	)
	return s.fallbackFromDocuments(ctx, req.OrganizationID)
}

// fallbackFromDocuments synthesizes pseudo-chunks from document summaries so
// the pipeline always has something to work with, even at low quality.
func (s *Searcher) fallbackFromDocuments(ctx context.Context, organizationID string) (*SearchResult, error) {
	docs, err := s.store.ListDocumentSummaries(ctx, organizationID, fallbackDocumentLimit)
	if err != nil {
		return nil, errors.Wrap(err, "fallback document listing failed")
	}

	result := &SearchResult{
		Chunks:         make([]DocumentChunk, 0, len(docs)),
		LexicalScores:  make([]float64, len(docs)),
		SemanticScores: make([]float64, len(docs)),
		Fallback:       true,
	}

	for i, doc := range docs {
		text := doc.Summary
		if text == "" && doc.Content != "" && s.summarizer != nil {
			summary, summarizeErr := s.summarizer.Summarize(ctx, doc.Content)
			if summarizeErr != nil {
				s.log.Warn("fallback summarization failed",
					"document_id", doc.DocumentID,
					"error", summarizeErr.Error(),
				)
			} else {
				text = summary
			}
		}
		if text == "" {
			text = fmt.Sprintf("No summary is available for %q yet.", doc.Title)
		}

		score := scoring.ComputeSourceScore(doc.UpdatedAt, fallbackSourceAuthority, fallbackAuthorAuthority, 0, s.now())

		result.Chunks = append(result.Chunks, DocumentChunk{
			ChunkID:       "doc-summary:" + doc.DocumentID,
			DocVersionID:  doc.DocVersionID,
			Text:          text,
			Rank:          i,
			SourceURL:     doc.SourceURL,
			SourceScore:   score.Total,
			DocumentID:    doc.DocumentID,
			DocumentTitle: doc.Title,
			ConnectorType: doc.ConnectorType,
			Author:        doc.Author,
			UpdatedAt:     doc.UpdatedAt,
			SourceFormat:  "summary",
		})
	}

	return result, nil
}

// CacheKey is a stable key for read-through caching of search results.
// Identical requests always map to the same key.
func (r SearchRequest) CacheKey() string {
	raw, err := json.Marshal(r)
	if err != nil {
		// Marshaling a SearchRequest cannot fail, but never let a cache key
		// collide on error.
		return "retrieval:uncacheable"
	}

	hasher := fnv.New64a()
	_, _ = hasher.Write(raw)
	return fmt.Sprintf("retrieval:%s:%x", r.OrganizationID, hasher.Sum64())
}
