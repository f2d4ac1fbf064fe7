// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package evals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Verdicts for a single benchmark case.
const (
	VerdictGood    = "good"
	VerdictBad     = "bad"
	VerdictUnknown = "unknown"
)

const (
	// DefaultThresholdGoodPct is the regression gate: a run passes when at
	// least this percentage of cases come back good.
	DefaultThresholdGoodPct = 75.0

	defaultMinCitationCount = 1
	minGroundingCoverage    = 0.8
)

// ErrMissingResponse signals that the executor had no response configured for
// a case. It is a harness configuration error, not a quality failure, so
// RunBenchmark aborts instead of recording a bad verdict.
var ErrMissingResponse = errors.New("no response configured for case")

// Case is one fixed benchmark query with its acceptance conditions.
type Case struct {
	ID                          string   `json:"id"`
	Query                       string   `json:"query"`
	Mode                        string   `json:"mode,omitempty"`
	SourceType                  string   `json:"sourceType,omitempty"`
	MinCitationCount            int      `json:"minCitationCount,omitempty"`
	ExpectedAnyCitationChunkIDs []string `json:"expectedAnyCitationChunkIds,omitempty"`
	ExpectedAnyAnswerPhrases    []string `json:"expectedAnyAnswerPhrases,omitempty"`
}

// Response is the harness's view of one executed query: just enough to judge
// the verdict, decoupled from the full pipeline response shape.
type Response struct {
	Answer           string   `json:"answer"`
	CitationChunkIDs []string `json:"citationChunkIds"`
	CitationCoverage float64  `json:"citationCoverage"`
}

// Execute runs one benchmark case against the live pipeline or an injected
// mock. Returning (nil, nil) or ErrMissingResponse marks the harness as
// misconfigured.
type Execute func(ctx context.Context, organizationID string, benchmarkCase Case) (*Response, error)

// BenchmarkInput configures one benchmark run.
type BenchmarkInput struct {
	OrganizationID   string
	Cases            []Case
	ThresholdGoodPct float64
	Execute          Execute
}

// CaseResult is the judged outcome of one case.
type CaseResult struct {
	CaseID  string   `json:"caseId" db:"case_id"`
	Verdict string   `json:"verdict" db:"verdict"`
	Reasons []string `json:"reasons,omitempty"`
}

// RunResult aggregates one benchmark run. PassThreshold is the CI-style gate.
type RunResult struct {
	RunID            string       `json:"runId"`
	OrganizationID   string       `json:"organizationId"`
	Cases            []CaseResult `json:"cases"`
	GoodCount        int          `json:"goodCount"`
	BadCount         int          `json:"badCount"`
	UnknownCount     int          `json:"unknownCount"`
	ScoreGoodPct     float64      `json:"scoreGoodPct"`
	ThresholdGoodPct float64      `json:"thresholdGoodPct"`
	PassThreshold    bool         `json:"passThreshold"`
	StartedAt        time.Time    `json:"startedAt"`
	CompletedAt      time.Time    `json:"completedAt"`
}

// RunBenchmark executes every case sequentially and aggregates verdicts.
// Cases share no mutable state, so each one is independently reproducible.
func RunBenchmark(ctx context.Context, input BenchmarkInput) (*RunResult, error) {
	if input.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	if len(input.Cases) == 0 {
		return nil, errors.New("at least one benchmark case is required")
	}
	if input.Execute == nil {
		return nil, errors.New("an executor is required")
	}

	threshold := input.ThresholdGoodPct
	if threshold <= 0 {
		threshold = DefaultThresholdGoodPct
	}

	result := &RunResult{
		RunID:            uuid.New().String(),
		OrganizationID:   input.OrganizationID,
		Cases:            make([]CaseResult, 0, len(input.Cases)),
		ThresholdGoodPct: threshold,
		StartedAt:        time.Now().UTC(),
	}

	for _, benchmarkCase := range input.Cases {
		response, err := input.Execute(ctx, input.OrganizationID, benchmarkCase)
		if errors.Is(err, ErrMissingResponse) || (err == nil && response == nil) {
			return nil, errors.Wrapf(ErrMissingResponse, "case %s", benchmarkCase.ID)
		}

		caseResult := CaseResult{CaseID: benchmarkCase.ID}
		if err != nil {
			// A runtime failure is unjudgeable. It counts against the
			// score but is reported distinctly from a quality failure.
			caseResult.Verdict = VerdictUnknown
			caseResult.Reasons = []string{fmt.Sprintf("execution failed: %v", err)}
			result.UnknownCount++
		} else {
			caseResult.Verdict, caseResult.Reasons = judge(benchmarkCase, response)
			if caseResult.Verdict == VerdictGood {
				result.GoodCount++
			} else {
				result.BadCount++
			}
		}
		result.Cases = append(result.Cases, caseResult)
	}

	result.ScoreGoodPct = float64(result.GoodCount) / float64(len(input.Cases)) * 100
	result.PassThreshold = result.ScoreGoodPct >= threshold
	result.CompletedAt = time.Now().UTC()

	return result, nil
}

// judge classifies one response against its case's acceptance conditions,
// collecting every failed condition rather than stopping at the first.
func judge(benchmarkCase Case, response *Response) (string, []string) {
	var reasons []string

	minCitations := benchmarkCase.MinCitationCount
	if minCitations <= 0 {
		minCitations = defaultMinCitationCount
	}
	if len(response.CitationChunkIDs) < minCitations {
		reasons = append(reasons, fmt.Sprintf("citation count %d is below the required %d", len(response.CitationChunkIDs), minCitations))
	}

	if response.CitationCoverage < minGroundingCoverage {
		reasons = append(reasons, fmt.Sprintf("grounding citation coverage %.2f is below %.2f", response.CitationCoverage, minGroundingCoverage))
	}

	if len(benchmarkCase.ExpectedAnyCitationChunkIDs) > 0 && !anyChunkIDMatches(benchmarkCase.ExpectedAnyCitationChunkIDs, response.CitationChunkIDs) {
		reasons = append(reasons, "none of the expected chunk ids were cited")
	}

	if len(benchmarkCase.ExpectedAnyAnswerPhrases) > 0 && !anyPhrasePresent(benchmarkCase.ExpectedAnyAnswerPhrases, response.Answer) {
		reasons = append(reasons, "none of the expected phrases appear in the answer")
	}

	if len(reasons) > 0 {
		return VerdictBad, reasons
	}
	return VerdictGood, nil
}

func anyChunkIDMatches(expected, got []string) bool {
	for _, want := range expected {
		for _, have := range got {
			if want == have {
				return true
			}
		}
	}
	return false
}

func anyPhrasePresent(phrases []string, answer string) bool {
	lowered := strings.ToLower(answer)
	for _, phrase := range phrases {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
