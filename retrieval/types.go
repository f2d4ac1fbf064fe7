// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package retrieval

import "time"

// DocumentChunk is a contiguous slice of ingested text, the unit of
// retrieval. Chunks are created at ingestion time and never mutated; a new
// document version supersedes them with fresh chunks.
type DocumentChunk struct {
	ChunkID      string `json:"chunkId" db:"chunk_id"`
	DocVersionID string `json:"docVersionId" db:"doc_version_id"`
	Text         string `json:"text" db:"chunk_text"`
	Rank         int    `json:"rank" db:"chunk_rank"`
	SourceURL    string `json:"sourceUrl" db:"source_url"`
	SourceScore  int    `json:"sourceScore" db:"source_score"`

	// Provenance
	DocumentID         string `json:"documentId" db:"document_id"`
	DocumentTitle      string `json:"documentTitle" db:"document_title"`
	ConnectorType      string `json:"connectorType" db:"connector_type"`
	Author             string `json:"author" db:"author"`
	UpdatedAt          string `json:"updatedAt" db:"updated_at"`
	SourceFormat       string `json:"sourceFormat" db:"source_format"`
	SourceExternalID   string `json:"sourceExternalId" db:"source_external_id"`
	CanonicalSourceURL string `json:"canonicalSourceUrl" db:"canonical_source_url"`
	SyncRunID          string `json:"syncRunId" db:"sync_run_id"`
	SourceChecksum     string `json:"sourceChecksum" db:"source_checksum"`
}

// DateRange restricts retrieval to documents updated inside [From, To].
// A zero bound is open.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SearchRequest describes one retrieval invocation. OrganizationID is
// mandatory; retrieval never crosses tenants.
type SearchRequest struct {
	OrganizationID string     `json:"organizationId"`
	Question       string     `json:"question"`
	SourceType     string     `json:"sourceType,omitempty"`
	QueryEmbedding []float32  `json:"queryEmbedding,omitempty"`
	DateRange      *DateRange `json:"dateRange,omitempty"`
	Author         string     `json:"author,omitempty"`
	MinSourceScore int        `json:"minSourceScore,omitempty"`
	DocumentIDs    []string   `json:"documentIds,omitempty"`
}

// SearchResult carries the retrieved chunks with their raw hybrid-search
// scores. The score slices are parallel to Chunks.
type SearchResult struct {
	Chunks         []DocumentChunk `json:"chunks"`
	LexicalScores  []float64       `json:"lexicalScores"`
	SemanticScores []float64       `json:"semanticScores"`
	Fallback       bool            `json:"fallback"`
}

// DocumentSummary is the document-level row used by the zero-result fallback.
type DocumentSummary struct {
	DocumentID    string `db:"document_id"`
	DocVersionID  string `db:"doc_version_id"`
	Title         string `db:"title"`
	Summary       string `db:"summary"`
	Content       string `db:"content"`
	SourceURL     string `db:"source_url"`
	ConnectorType string `db:"connector_type"`
	Author        string `db:"author"`
	UpdatedAt     string `db:"updated_at"`
}
