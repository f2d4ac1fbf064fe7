// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/cache"
	"github.com/internalwiki/assistant/contract"
	"github.com/internalwiki/assistant/evidence"
	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/logger"
	"github.com/internalwiki/assistant/rerank"
	"github.com/internalwiki/assistant/retrieval"
)

const (
	defaultGenerationTimeout = 30 * time.Second
	defaultSearchCacheTTL    = 5 * time.Minute
)

// QueryRequest is one user question with its retrieval filters and the
// viewer's permission context.
type QueryRequest struct {
	OrganizationID string               `json:"organizationId"`
	Question       string               `json:"question"`
	Mode           string               `json:"mode,omitempty"`
	SourceType     string               `json:"sourceType,omitempty"`
	Author         string               `json:"author,omitempty"`
	MinSourceScore int                  `json:"minSourceScore,omitempty"`
	DateRange      *retrieval.DateRange `json:"dateRange,omitempty"`
	DocumentIDs    []string             `json:"documentIds,omitempty"`
	Limit          int                  `json:"limit,omitempty"`

	ViewerPrincipalKeys     []string            `json:"viewerPrincipalKeys,omitempty"`
	SourceACLs              map[string][]string `json:"sourceAcls,omitempty"`
	AllowHistoricalEvidence bool                `json:"allowHistoricalEvidence,omitempty"`
}

type Grounding struct {
	CitationCoverage      float64 `json:"citationCoverage"`
	UnsupportedClaimCount int     `json:"unsupportedClaimCount"`
	RetrievalScore        float64 `json:"retrievalScore"`
}

type Traceability struct {
	Coverage           float64 `json:"coverage"`
	MissingAuthorCount int     `json:"missingAuthorCount"`
	MissingDateCount   int     `json:"missingDateCount"`
}

type Timings struct {
	RetrievalMs  int64 `json:"retrievalMs"`
	GenerationMs int64 `json:"generationMs"`
}

type Verification struct {
	Status            string   `json:"status"`
	Reasons           []string `json:"reasons,omitempty"`
	ReasonCodes       []string `json:"reasonCodes,omitempty"`
	CitationCoverage  float64  `json:"citationCoverage"`
	UnsupportedClaims int      `json:"unsupportedClaims"`
}

type Permissions struct {
	FilteredOutCount int    `json:"filteredOutCount"`
	ACLMode          string `json:"aclMode"`
}

// QueryResponse is the full assistant answer envelope.
type QueryResponse struct {
	Answer          string          `json:"answer"`
	Confidence      float64         `json:"confidence"`
	SourceScore     int             `json:"sourceScore"`
	Citations       []llm.Citation  `json:"citations"`
	Sources         []evidence.Item `json:"sources"`
	Grounding       Grounding       `json:"grounding"`
	Traceability    Traceability    `json:"traceability"`
	Timings         Timings         `json:"timings"`
	Verification    Verification    `json:"verification"`
	Permissions     Permissions     `json:"permissions"`
	QualityContract contract.Policy `json:"qualityContract"`
	Fallback        bool            `json:"fallback"`
	Mode            string          `json:"mode"`
	Model           string          `json:"model"`
}

// EvaluationStore persists contract evaluations for reporting.
type EvaluationStore interface {
	SaveEvaluation(ctx context.Context, evaluation contract.Evaluation) error
}

// Config tunes a pipeline Service.
type Config struct {
	GenerationTimeout time.Duration
	SearchCacheTTL    time.Duration
}

// Service runs the full question pipeline: cached retrieval, hybrid
// re-ranking, evidence assembly, answer generation and the synchronous
// quality contract gate.
type Service struct {
	search      func(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error)
	provider    llm.Provider
	evaluator   *contract.Evaluator
	policy      contract.Policy
	evaluations EvaluationStore
	config      Config
	log         logger.Logger
}

// NewService wires the pipeline. evaluations may be nil to skip persistence;
// cacheHandle may be nil to disable search caching.
func NewService(searcher *retrieval.Searcher, provider llm.Provider, policy contract.Policy, evaluations EvaluationStore, cacheHandle cache.Cache, config Config, log logger.Logger) *Service {
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = defaultGenerationTimeout
	}
	if config.SearchCacheTTL <= 0 {
		config.SearchCacheTTL = defaultSearchCacheTTL
	}

	search := cache.Wrap(
		cacheHandle,
		config.SearchCacheTTL,
		func(req retrieval.SearchRequest) string { return req.CacheKey() },
		searcher.Search,
	)

	return &Service{
		search:      search,
		provider:    provider,
		evaluator:   contract.NewEvaluator(policy),
		policy:      policy,
		evaluations: evaluations,
		config:      config,
		log:         log,
	}
}

// Query answers one question. Provider and timeout errors fail the request
// cleanly; a blocked contract is a normal response with
// Verification.Status set to blocked.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if req.Question == "" {
		return nil, errors.New("question is required")
	}

	retrievalStart := time.Now()
	searchResult, err := s.search(ctx, retrieval.SearchRequest{
		OrganizationID: req.OrganizationID,
		Question:       req.Question,
		SourceType:     req.SourceType,
		Author:         req.Author,
		MinSourceScore: req.MinSourceScore,
		DateRange:      req.DateRange,
		DocumentIDs:    req.DocumentIDs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "retrieval failed")
	}
	retrievalMs := time.Since(retrievalStart).Milliseconds()

	ranked := rerank.Hybrid(rerank.Input{
		Chunks:         searchResult.Chunks,
		LexicalScores:  searchResult.LexicalScores,
		SemanticScores: searchResult.SemanticScores,
		Limit:          req.Limit,
	})

	chunks := make([]retrieval.DocumentChunk, len(ranked))
	for i, rankedChunk := range ranked {
		chunks[i] = rankedChunk.DocumentChunk
	}

	generationStart := time.Now()
	answer, err := s.generate(ctx, req.Question, chunks)
	if err != nil {
		return nil, errors.Wrap(err, "answer generation failed")
	}
	generationMs := time.Since(generationStart).Milliseconds()

	evaluation := s.evaluator.Evaluate(contract.Input{
		OrganizationID:          req.OrganizationID,
		Answer:                  answer.Answer,
		Citations:               answer.Citations,
		Chunks:                  chunks,
		ViewerPrincipalKeys:     req.ViewerPrincipalKeys,
		SourceACLs:              req.SourceACLs,
		AllowHistoricalEvidence: req.AllowHistoricalEvidence,
	})

	if s.evaluations != nil {
		if err := s.evaluations.SaveEvaluation(ctx, evaluation); err != nil {
			// Reporting only; the graded response still goes out.
			s.log.Error("failed to persist contract evaluation", "error", err, "organization_id", req.OrganizationID)
		}
	}

	response := &QueryResponse{
		Answer:          answer.Answer,
		Confidence:      answer.Confidence,
		SourceScore:     answer.SourceScore,
		Citations:       answer.Citations,
		Sources:         evidence.BuildItems(ranked),
		Grounding:       buildGrounding(evaluation, ranked),
		Traceability:    buildTraceability(chunks),
		Timings:         Timings{RetrievalMs: retrievalMs, GenerationMs: generationMs},
		Verification:    buildVerification(evaluation),
		Permissions:     Permissions{FilteredOutCount: len(searchResult.Chunks) - len(ranked), ACLMode: s.policy.PermissionSafety.Mode},
		QualityContract: s.policy,
		Fallback:        searchResult.Fallback,
		Mode:            req.Mode,
		Model:           s.provider.Name(),
	}

	return response, nil
}

// generate calls the provider under a bounded timeout. A timeout fails the
// request; no answer reaches a user without a completed contract evaluation.
func (s *Service) generate(ctx context.Context, question string, chunks []retrieval.DocumentChunk) (*llm.AnswerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GenerationTimeout)
	defer cancel()

	return s.provider.AnswerQuestion(ctx, llm.AnswerRequest{
		Question: question,
		Chunks:   chunks,
	})
}

func buildGrounding(evaluation contract.Evaluation, ranked []rerank.RankedChunk) Grounding {
	retrievalScore := 0.0
	if len(ranked) > 0 {
		for _, chunk := range ranked {
			retrievalScore += chunk.CombinedScore
		}
		retrievalScore /= float64(len(ranked))
	}

	return Grounding{
		CitationCoverage:      evaluation.Groundedness.Metrics["citationCoverage"],
		UnsupportedClaimCount: int(evaluation.Groundedness.Metrics["unsupportedClaimCount"]),
		RetrievalScore:        retrievalScore,
	}
}

func buildTraceability(chunks []retrieval.DocumentChunk) Traceability {
	missingAuthor := 0
	missingDate := 0
	for _, chunk := range chunks {
		if chunk.Author == "" {
			missingAuthor++
		}
		if chunk.UpdatedAt == "" {
			missingDate++
		}
	}

	coverage := 0.0
	if len(chunks) > 0 {
		traced := 0
		for _, chunk := range chunks {
			if chunk.Author != "" && chunk.UpdatedAt != "" {
				traced++
			}
		}
		coverage = float64(traced) / float64(len(chunks))
	}

	return Traceability{
		Coverage:           coverage,
		MissingAuthorCount: missingAuthor,
		MissingDateCount:   missingDate,
	}
}

func buildVerification(evaluation contract.Evaluation) Verification {
	return Verification{
		Status:            evaluation.Status,
		Reasons:           evaluation.Reasons(),
		ReasonCodes:       evaluation.ReasonCodes(),
		CitationCoverage:  evaluation.Groundedness.Metrics["citationCoverage"],
		UnsupportedClaims: int(evaluation.Groundedness.Metrics["unsupportedClaimCount"]),
	}
}
