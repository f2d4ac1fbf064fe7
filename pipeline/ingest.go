// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/chunking"
	"github.com/internalwiki/assistant/embeddings"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/retrieval"
	"github.com/internalwiki/assistant/scoring"
)

// IngestStore is the write side of the chunk index.
type IngestStore interface {
	IndexChunks(ctx context.Context, organizationID string, chunks []retrieval.DocumentChunk, vectors [][]float32) error
	UpsertDocument(ctx context.Context, organizationID string, doc retrieval.DocumentSummary) error
}

// IngestRequest is one document version to chunk, embed and index. The
// authority factors come from connector metadata and feed the source score.
type IngestRequest struct {
	OrganizationID string            `json:"organizationId"`
	Document       chunking.Document `json:"document"`
	Summary        string            `json:"summary,omitempty"`

	SourceAuthority  float64 `json:"sourceAuthority"`
	AuthorAuthority  float64 `json:"authorAuthority"`
	CitationCoverage float64 `json:"citationCoverage"`
}

// IngestResult reports what one ingestion wrote.
type IngestResult struct {
	DocumentID   string `json:"documentId"`
	DocVersionID string `json:"docVersionId"`
	ChunkCount   int    `json:"chunkCount"`
	SourceScore  int    `json:"sourceScore"`
}

// Ingestor runs the write path: score the source, split the document into
// chunks, embed them and upsert both the chunks and the document-level
// summary row the retrieval fallback reads.
type Ingestor struct {
	chunker  *chunking.Chunker
	embedder *embeddings.Embedder
	store    IngestStore
	apiKey   string
	now      func() time.Time
	log      logger.Logger
}

// NewIngestor wires the ingestion path.
func NewIngestor(chunker *chunking.Chunker, embedder *embeddings.Embedder, store IngestStore, apiKey string, log logger.Logger) *Ingestor {
	return &Ingestor{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		apiKey:   apiKey,
		now:      time.Now,
		log:      log,
	}
}

// Ingest indexes one document version. Re-ingesting the same version is
// idempotent: chunk ids are deterministic and the store upserts.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if req.Document.DocumentID == "" {
		return nil, errors.New("document id is required")
	}
	if req.Document.DocVersionID == "" {
		return nil, errors.New("doc version id is required")
	}
	if req.Document.Content == "" {
		return nil, errors.New("document content is required")
	}

	doc := req.Document
	// Timestamps are compared as text downstream, so they must land in the
	// index as UTC RFC 3339. Connector offsets like +02:00 would otherwise
	// order incorrectly against UTC-formatted range bounds.
	doc.UpdatedAt = normalizeTimestamp(doc.UpdatedAt)

	score := scoring.ComputeSourceScore(doc.UpdatedAt, req.SourceAuthority, req.AuthorAuthority, req.CitationCoverage, i.now())

	chunks, err := i.chunker.Split(doc, score.Total)
	if err != nil {
		return nil, errors.Wrap(err, "failed to chunk document")
	}

	texts := make([]string, len(chunks))
	for j, chunk := range chunks {
		texts[j] = chunk.Text
	}
	vectors, err := i.embedder.EmbedTexts(ctx, embeddings.EmbedTextsRequest{Texts: texts, APIKey: i.apiKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed chunks")
	}

	if err := i.store.IndexChunks(ctx, req.OrganizationID, chunks, vectors); err != nil {
		return nil, errors.Wrap(err, "failed to index chunks")
	}

	if err := i.store.UpsertDocument(ctx, req.OrganizationID, retrieval.DocumentSummary{
		DocumentID:    doc.DocumentID,
		DocVersionID:  doc.DocVersionID,
		Title:         doc.Title,
		Summary:       req.Summary,
		Content:       doc.Content,
		SourceURL:     doc.SourceURL,
		ConnectorType: doc.ConnectorType,
		Author:        doc.Author,
		UpdatedAt:     doc.UpdatedAt,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to upsert document")
	}

	i.log.Info("document indexed",
		"organization_id", req.OrganizationID,
		"document_id", doc.DocumentID,
		"doc_version_id", doc.DocVersionID,
		"chunks", len(chunks),
		"source_score", score.Total,
	)

	return &IngestResult{
		DocumentID:   doc.DocumentID,
		DocVersionID: doc.DocVersionID,
		ChunkCount:   len(chunks),
		SourceScore:  score.Total,
	}, nil
}

// normalizeTimestamp rewrites a parseable RFC 3339 timestamp to UTC.
// Anything unparseable passes through and scores as maximally stale.
func normalizeTimestamp(updatedAt string) string {
	if updatedAt == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return updatedAt
	}
	return parsed.UTC().Format(time.RFC3339)
}
