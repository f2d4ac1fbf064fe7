// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/internalwiki/assistant/retrieval"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 150
)

// Document is the ingestion-side view of a document version about to be
// chunked.
type Document struct {
	DocumentID    string `json:"documentId"`
	DocVersionID  string `json:"docVersionId"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	SourceURL     string `json:"sourceUrl"`
	ConnectorType string `json:"connectorType"`
	Author        string `json:"author"`
	UpdatedAt     string `json:"updatedAt"`
	SourceFormat  string `json:"sourceFormat"`
	SyncRunID     string `json:"syncRunId"`
}

// Chunker splits document content into retrieval chunks.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker creates a Chunker with the given size and overlap in characters.
// Non-positive values fall back to the defaults.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = defaultChunkOverlap
	}

	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Split chunks a document version. Chunk ids are deterministic per document
// version so re-ingesting the same version is idempotent; a new version
// supersedes old chunks instead of mutating them.
func (c *Chunker) Split(doc Document, sourceScore int) ([]retrieval.DocumentChunk, error) {
	if doc.DocVersionID == "" {
		return nil, errors.New("doc version id is required")
	}

	parts, err := c.splitter.SplitText(doc.Content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to split document text")
	}

	chunks := make([]retrieval.DocumentChunk, 0, len(parts))
	for i, part := range parts {
		checksum := sha256.Sum256([]byte(part))

		chunks = append(chunks, retrieval.DocumentChunk{
			ChunkID:        fmt.Sprintf("%s:%d", doc.DocVersionID, i),
			DocVersionID:   doc.DocVersionID,
			Text:           part,
			Rank:           i,
			SourceURL:      doc.SourceURL,
			SourceScore:    sourceScore,
			DocumentID:     doc.DocumentID,
			DocumentTitle:  doc.Title,
			ConnectorType:  doc.ConnectorType,
			Author:         doc.Author,
			UpdatedAt:      doc.UpdatedAt,
			SourceFormat:   doc.SourceFormat,
			SyncRunID:      doc.SyncRunID,
			SourceChecksum: hex.EncodeToString(checksum[:]),
		})
	}

	return chunks, nil
}
