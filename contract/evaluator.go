// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package contract

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/retrieval"
)

// Input is everything the evaluator needs to grade one produced answer.
// Chunks are the evidence chunks the answer was generated from; citations
// that do not resolve into this set count as unsupported claims.
type Input struct {
	OrganizationID          string
	Answer                  string
	Citations               []llm.Citation
	Chunks                  []retrieval.DocumentChunk
	ViewerPrincipalKeys     []string
	SourceACLs              map[string][]string
	AllowHistoricalEvidence bool
}

// DimensionResult is the outcome of evaluating one contract dimension.
type DimensionResult struct {
	Status      string             `json:"status"`
	Reasons     []string           `json:"reasons,omitempty"`
	ReasonCodes []string           `json:"reasonCodes,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

func (r DimensionResult) blocked() bool {
	return r.Status == StatusBlocked
}

func (r *DimensionResult) block(code, reason string) {
	r.Status = StatusBlocked
	r.ReasonCodes = append(r.ReasonCodes, code)
	r.Reasons = append(r.Reasons, reason)
}

// Evaluation is the persisted result of grading one answer against the
// contract.
type Evaluation struct {
	ID               string          `json:"id" db:"id"`
	OrganizationID   string          `json:"organizationId" db:"organization_id"`
	Status           string          `json:"status" db:"status"`
	Groundedness     DimensionResult `json:"groundedness"`
	Freshness        DimensionResult `json:"freshness"`
	PermissionSafety DimensionResult `json:"permissionSafety"`
	EvaluatedAt      time.Time       `json:"evaluatedAt" db:"evaluated_at"`
}

// Reasons flattens all blocked-dimension reasons, for response assembly.
func (e *Evaluation) Reasons() []string {
	var out []string
	out = append(out, e.Groundedness.Reasons...)
	out = append(out, e.Freshness.Reasons...)
	out = append(out, e.PermissionSafety.Reasons...)
	return out
}

// ReasonCodes flattens all blocked-dimension reason codes.
func (e *Evaluation) ReasonCodes() []string {
	var out []string
	out = append(out, e.Groundedness.ReasonCodes...)
	out = append(out, e.Freshness.ReasonCodes...)
	out = append(out, e.PermissionSafety.ReasonCodes...)
	return out
}

// Evaluator grades answers against a Policy. It holds no mutable state and is
// safe for concurrent use.
type Evaluator struct {
	policy Policy
	now    func() time.Time
}

func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{
		policy: policy,
		now:    time.Now,
	}
}

// Evaluate grades one answer. Every dimension is evaluated even when an
// earlier one blocks, so callers always see the full picture. The overall
// status is blocked if any dimension blocks.
func (e *Evaluator) Evaluate(input Input) Evaluation {
	evaluation := Evaluation{
		ID:             uuid.New().String(),
		OrganizationID: input.OrganizationID,
		Status:         StatusPassed,
		EvaluatedAt:    e.now().UTC(),
	}

	evaluation.Groundedness = e.evaluateGroundedness(input)
	evaluation.Freshness = e.evaluateFreshness(input)
	evaluation.PermissionSafety = e.evaluatePermissionSafety(input)

	if evaluation.Groundedness.blocked() || evaluation.Freshness.blocked() || evaluation.PermissionSafety.blocked() {
		evaluation.Status = StatusBlocked
	}

	return evaluation
}

func (e *Evaluator) evaluateGroundedness(input Input) DimensionResult {
	policy := e.policy.Groundedness
	result := DimensionResult{Status: StatusPassed}

	resolved := 0
	for _, citation := range input.Citations {
		if chunkByID(input.Chunks, citation.ChunkID) != nil {
			resolved++
		}
	}
	unsupported := len(input.Citations) - resolved

	coverage := 0.0
	if len(input.Citations) > 0 {
		coverage = float64(resolved) / float64(len(input.Citations))
	}

	result.Metrics = map[string]float64{
		"citationCount":         float64(len(input.Citations)),
		"citationCoverage":      coverage,
		"unsupportedClaimCount": float64(unsupported),
	}

	if policy.RequireCitations && len(input.Citations) == 0 {
		result.block(CodeNoCitations, "answer has no citations")
		return result
	}
	if coverage < policy.MinCitationCoverage {
		result.block(CodeLowCitationCoverage, fmt.Sprintf("citation coverage %.2f is below the required %.2f", coverage, policy.MinCitationCoverage))
	}
	if unsupported > policy.MaxUnsupportedClaims {
		result.block(CodeUnsupportedClaims, fmt.Sprintf("%d citations do not resolve to retrieved evidence (at most %d allowed)", unsupported, policy.MaxUnsupportedClaims))
	}

	return result
}

func (e *Evaluator) evaluateFreshness(input Input) DimensionResult {
	policy := e.policy.Freshness
	result := DimensionResult{Status: StatusPassed}

	threshold := policy.MinFreshCitationCoverage
	if input.AllowHistoricalEvidence {
		threshold = policy.RelaxedFreshCitationCoverage
	}

	cutoff := e.now().UTC().AddDate(0, 0, -policy.WindowDays)
	fresh := 0
	for _, citation := range input.Citations {
		chunk := chunkByID(input.Chunks, citation.ChunkID)
		if chunk == nil {
			continue
		}
		updatedAt, err := time.Parse(time.RFC3339, chunk.UpdatedAt)
		if err != nil {
			// Unknown age counts as stale.
			continue
		}
		if !updatedAt.Before(cutoff) {
			fresh++
		}
	}

	freshCoverage := 0.0
	if len(input.Citations) > 0 {
		freshCoverage = float64(fresh) / float64(len(input.Citations))
	}

	result.Metrics = map[string]float64{
		"freshCitationCount":    float64(fresh),
		"freshCitationCoverage": freshCoverage,
		"windowDays":            float64(policy.WindowDays),
		"appliedThreshold":      threshold,
	}

	if freshCoverage < threshold {
		result.block(CodeStaleEvidence, fmt.Sprintf("only %.0f%% of citations fall within the %d day freshness window (%.0f%% required)", freshCoverage*100, policy.WindowDays, threshold*100))
	}

	return result
}

// evaluatePermissionSafety confirms the viewer's principal keys cover every
// cited source's ACL. Under fail-closed mode any missing evidence blocks:
// no principal keys, a cited document with no resolvable ACL, or a resolvable
// ACL the viewer does not appear in.
func (e *Evaluator) evaluatePermissionSafety(input Input) DimensionResult {
	result := DimensionResult{Status: StatusPassed}

	viewer := make(map[string]struct{}, len(input.ViewerPrincipalKeys))
	for _, key := range input.ViewerPrincipalKeys {
		if key != "" {
			viewer[key] = struct{}{}
		}
	}

	result.Metrics = map[string]float64{
		"viewerPrincipalKeyCount": float64(len(viewer)),
		"citedDocumentCount":      0,
	}

	if len(viewer) == 0 {
		result.block(CodeMissingPrincipalKeys, "requesting user has no resolvable principal keys")
		return result
	}

	seen := map[string]struct{}{}
	for _, citation := range input.Citations {
		chunk := chunkByID(input.Chunks, citation.ChunkID)
		if chunk == nil {
			continue
		}
		if _, ok := seen[chunk.DocumentID]; ok {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}

		acl, ok := input.SourceACLs[chunk.DocumentID]
		if !ok || len(acl) == 0 {
			result.block(CodeUnresolvableSourceACL, fmt.Sprintf("no resolvable ACL for cited document %s", chunk.DocumentID))
			continue
		}

		allowed := false
		for _, principal := range acl {
			if _, ok := viewer[principal]; ok {
				allowed = true
				break
			}
		}
		if !allowed {
			result.block(CodePrincipalNotInACL, fmt.Sprintf("viewer principals do not cover the ACL of cited document %s", chunk.DocumentID))
		}
	}
	result.Metrics["citedDocumentCount"] = float64(len(seen))

	return result
}

func chunkByID(chunks []retrieval.DocumentChunk, chunkID string) *retrieval.DocumentChunk {
	for i := range chunks {
		if chunks[i].ChunkID == chunkID {
			return &chunks[i]
		}
	}
	return nil
}
