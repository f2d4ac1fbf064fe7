// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"

	"github.com/google/uuid"

	"github.com/internalwiki/assistant/logger"
)

// EmbedTextsRequest asks for embeddings of a batch of texts. An empty APIKey
// selects the deterministic fallback immediately.
type EmbedTextsRequest struct {
	Texts  []string `json:"texts"`
	APIKey string   `json:"apiKey"`
}

// Embedder produces embeddings for retrieval, falling back to deterministic
// hash vectors whenever the upstream provider is unavailable or fails.
// Retrieval must always complete; embedding failure is never fatal.
type Embedder struct {
	upstream EmbeddingProvider
	fallback EmbeddingProvider
	log      logger.Logger
}

// NewEmbedder creates an Embedder. upstream may be nil, in which case every
// request uses the deterministic fallback.
func NewEmbedder(upstream EmbeddingProvider, log logger.Logger) *Embedder {
	dims := DimensionsOpenAI
	if upstream != nil {
		dims = upstream.Dimensions()
	}

	return &Embedder{
		upstream: upstream,
		fallback: NewMockEmbeddingProvider(dims),
		log:      log,
	}
}

// EmbedTexts embeds a batch of texts. With no API key or no upstream provider
// it uses the deterministic fallback, so identical texts always produce
// identical vectors. Upstream failures degrade to the fallback with a logged
// trace id instead of failing the request.
func (e *Embedder) EmbedTexts(ctx context.Context, req EmbedTextsRequest) ([][]float32, error) {
	if req.APIKey == "" || e.upstream == nil {
		return e.fallback.BatchCreateEmbeddings(ctx, req.Texts)
	}

	vectors, err := e.upstream.BatchCreateEmbeddings(ctx, req.Texts)
	if err != nil {
		traceID := uuid.NewString()
		e.log.Warn("embedding provider failed, using deterministic fallback",
			"trace_id", traceID,
			"texts", len(req.Texts),
			"error", err.Error(),
		)
		return e.fallback.BatchCreateEmbeddings(ctx, req.Texts)
	}

	return vectors, nil
}

// EmbedQuery embeds a single query string with the same fallback semantics.
func (e *Embedder) EmbedQuery(ctx context.Context, query, apiKey string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, EmbedTextsRequest{Texts: []string{query}, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions reports the vector width requests will produce.
func (e *Embedder) Dimensions() int {
	return e.fallback.Dimensions()
}
