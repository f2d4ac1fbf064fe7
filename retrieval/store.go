// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package retrieval

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// SQL identifiers as constants so dynamic construction never interpolates
// caller input.
const (
	chunksTable    = "document_chunks"
	documentsTable = "documents"

	indexChunkEmbedding = "document_chunks_embedding_idx"
	indexChunkLexical   = "document_chunks_text_search_idx"
	indexChunkOrg       = "document_chunks_org_idx"
	indexDocumentOrg    = "documents_org_idx"
)

// MaxChunks is the hard cap on chunks returned by one search.
const MaxChunks = 8

// Store is the Postgres-backed chunk index: pgvector for the semantic side,
// tsvector for the lexical side, one hybrid query for both.
type Store struct {
	db         *sqlx.DB
	dimensions int
	builder    sq.StatementBuilderType
}

// NewStore creates the store and ensures its schema exists.
func NewStore(db *sqlx.DB, dimensions int) (*Store, error) {
	store := &Store{
		db:         db,
		dimensions: dimensions,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ensure retrieval schema")
	}

	return store, nil
}

// hybridRow is a chunk row with its raw hybrid-search scores.
type hybridRow struct {
	DocumentChunk
	LexicalScore  float64 `db:"lexical_score"`
	SemanticScore float64 `db:"semantic_score"`
}

// HybridSearch runs one organization-scoped query combining full-text rank
// and vector cosine similarity. Results are ordered by the blended raw score
// and capped at MaxChunks; the caller re-ranks with the returned parallel
// score slices.
func (s *Store) HybridSearch(ctx context.Context, req SearchRequest, queryEmbedding []float32) (*SearchResult, error) {
	if req.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}

	query := s.builder.
		Select(
			"chunk_id", "doc_version_id", "chunk_text", "chunk_rank",
			"source_url", "source_score", "document_id", "document_title",
			"connector_type", "author", "updated_at", "source_format",
			"source_external_id", "canonical_source_url", "sync_run_id",
			"source_checksum",
		).
		Column(sq.Expr("ts_rank_cd(text_search, plainto_tsquery('english', ?)) AS lexical_score", req.Question)).
		Column(sq.Expr("1 - (embedding <=> ?) AS semantic_score", pgvector.NewVector(queryEmbedding))).
		From(chunksTable).
		Where(sq.Eq{"organization_id": req.OrganizationID})

	if req.SourceType != "" {
		query = query.Where(sq.Eq{"connector_type": req.SourceType})
	}
	if req.Author != "" {
		query = query.Where(sq.Eq{"author": req.Author})
	}
	if req.MinSourceScore > 0 {
		query = query.Where(sq.GtOrEq{"source_score": req.MinSourceScore})
	}
	if len(req.DocumentIDs) > 0 {
		query = query.Where(sq.Eq{"document_id": req.DocumentIDs})
	}
	if req.DateRange != nil {
		// Timestamps are stored as UTC RFC 3339 text, which orders
		// lexicographically.
		if !req.DateRange.From.IsZero() {
			query = query.Where(sq.GtOrEq{"updated_at": req.DateRange.From.UTC().Format("2006-01-02T15:04:05Z07:00")})
		}
		if !req.DateRange.To.IsZero() {
			query = query.Where(sq.LtOrEq{"updated_at": req.DateRange.To.UTC().Format("2006-01-02T15:04:05Z07:00")})
		}
	}

	query = query.
		OrderByClause("(ts_rank_cd(text_search, plainto_tsquery('english', ?)) + (1 - (embedding <=> ?))) DESC, chunk_id ASC", req.Question, pgvector.NewVector(queryEmbedding)).
		Limit(MaxChunks)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build hybrid search query")
	}

	var rows []hybridRow
	if err := s.db.SelectContext(ctx, &rows, sql, args...); err != nil {
		return nil, errors.Wrap(err, "hybrid search query failed")
	}

	result := &SearchResult{
		Chunks:         make([]DocumentChunk, len(rows)),
		LexicalScores:  make([]float64, len(rows)),
		SemanticScores: make([]float64, len(rows)),
	}
	for i, row := range rows {
		chunk := row.DocumentChunk
		chunk.Rank = i
		result.Chunks[i] = chunk
		result.LexicalScores[i] = row.LexicalScore
		result.SemanticScores[i] = row.SemanticScore
	}

	return result, nil
}

// ListDocumentSummaries returns up to limit of the organization's documents,
// most recently updated first. Used by the zero-result fallback.
func (s *Store) ListDocumentSummaries(ctx context.Context, organizationID string, limit int) ([]DocumentSummary, error) {
	if organizationID == "" {
		return nil, errors.New("organization id is required")
	}

	sql, args, err := s.builder.
		Select("document_id", "doc_version_id", "title", "summary", "content", "source_url", "connector_type", "author", "updated_at").
		From(documentsTable).
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("updated_at DESC", "document_id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build document summary query")
	}

	var summaries []DocumentSummary
	if err := s.db.SelectContext(ctx, &summaries, sql, args...); err != nil {
		return nil, errors.Wrap(err, "document summary query failed")
	}

	return summaries, nil
}

// IndexChunks upserts chunks with their embeddings. vectors is parallel to
// chunks.
func (s *Store) IndexChunks(ctx context.Context, organizationID string, chunks []DocumentChunk, vectors [][]float32) error {
	if organizationID == "" {
		return errors.New("organization id is required")
	}
	if len(chunks) != len(vectors) {
		return errors.Errorf("chunk and vector counts differ: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin index transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO document_chunks (
			chunk_id, organization_id, doc_version_id, chunk_text, chunk_rank,
			source_url, source_score, document_id, document_title,
			connector_type, author, updated_at, source_format,
			source_external_id, canonical_source_url, sync_run_id,
			source_checksum, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (chunk_id) DO UPDATE SET
			doc_version_id = EXCLUDED.doc_version_id,
			chunk_text = EXCLUDED.chunk_text,
			chunk_rank = EXCLUDED.chunk_rank,
			source_url = EXCLUDED.source_url,
			source_score = EXCLUDED.source_score,
			document_title = EXCLUDED.document_title,
			author = EXCLUDED.author,
			updated_at = EXCLUDED.updated_at,
			source_checksum = EXCLUDED.source_checksum,
			embedding = EXCLUDED.embedding`

	for i, chunk := range chunks {
		_, err := tx.ExecContext(ctx, upsert,
			chunk.ChunkID, organizationID, chunk.DocVersionID, chunk.Text, chunk.Rank,
			chunk.SourceURL, chunk.SourceScore, chunk.DocumentID, chunk.DocumentTitle,
			chunk.ConnectorType, chunk.Author, chunk.UpdatedAt, chunk.SourceFormat,
			chunk.SourceExternalID, chunk.CanonicalSourceURL, chunk.SyncRunID,
			chunk.SourceChecksum, pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to upsert chunk %s", chunk.ChunkID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit index transaction")
}

// UpsertDocument records document-level metadata for the fallback path.
func (s *Store) UpsertDocument(ctx context.Context, organizationID string, doc DocumentSummary) error {
	if organizationID == "" {
		return errors.New("organization id is required")
	}

	const upsert = `
		INSERT INTO documents (
			document_id, organization_id, doc_version_id, title, summary,
			content, source_url, connector_type, author, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (document_id) DO UPDATE SET
			doc_version_id = EXCLUDED.doc_version_id,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			content = EXCLUDED.content,
			author = EXCLUDED.author,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, upsert,
		doc.DocumentID, organizationID, doc.DocVersionID, doc.Title, doc.Summary,
		doc.Content, doc.SourceURL, doc.ConnectorType, doc.Author, doc.UpdatedAt,
	)
	return errors.Wrap(err, "failed to upsert document")
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to create vector extension")
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		chunk_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		doc_version_id TEXT NOT NULL,
		chunk_text TEXT NOT NULL,
		chunk_rank INT NOT NULL DEFAULT 0,
		source_url TEXT NOT NULL DEFAULT '',
		source_score INT NOT NULL DEFAULT 0,
		document_id TEXT NOT NULL DEFAULT '',
		document_title TEXT NOT NULL DEFAULT '',
		connector_type TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT '',
		source_format TEXT NOT NULL DEFAULT '',
		source_external_id TEXT NOT NULL DEFAULT '',
		canonical_source_url TEXT NOT NULL DEFAULT '',
		sync_run_id TEXT NOT NULL DEFAULT '',
		source_checksum TEXT NOT NULL DEFAULT '',
		embedding VECTOR(%d),
		text_search TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', chunk_text)) STORED
	);

	CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS %s ON %s USING gin (text_search);
	CREATE INDEX IF NOT EXISTS %s ON %s (organization_id);

	CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		doc_version_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		connector_type TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS %s ON %s (organization_id);
	`,
		chunksTable, s.dimensions,
		indexChunkEmbedding, chunksTable,
		indexChunkLexical, chunksTable,
		indexChunkOrg, chunksTable,
		documentsTable,
		indexDocumentOrg, documentsTable,
	)

	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to create retrieval schema")
}
