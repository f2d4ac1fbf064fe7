// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/llm"
	"github.com/internalwiki/assistant/retrieval"
)

func newTestEvaluator(t *testing.T, policy Policy) *Evaluator {
	t.Helper()
	evaluator := NewEvaluator(policy)
	evaluator.now = func() time.Time {
		return time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	}
	return evaluator
}

func freshChunk(chunkID, documentID string) retrieval.DocumentChunk {
	return retrieval.DocumentChunk{
		ChunkID:    chunkID,
		DocumentID: documentID,
		UpdatedAt:  "2026-08-25T09:00:00Z",
	}
}

func staleChunk(chunkID, documentID string) retrieval.DocumentChunk {
	return retrieval.DocumentChunk{
		ChunkID:    chunkID,
		DocumentID: documentID,
		UpdatedAt:  "2024-01-05T09:00:00Z",
	}
}

func passingInput() Input {
	return Input{
		OrganizationID: "org-1",
		Answer:         "Restart the sync worker from the admin console.",
		Citations: []llm.Citation{
			{ChunkID: "c1", DocVersionID: "v1", SourceURL: "https://wiki.example.com/a"},
		},
		Chunks:              []retrieval.DocumentChunk{freshChunk("c1", "doc-1")},
		ViewerPrincipalKeys: []string{"group:engineering"},
		SourceACLs: map[string][]string{
			"doc-1": {"group:engineering", "group:support"},
		},
	}
}

func TestEvaluateGroundedness(t *testing.T) {
	evaluator := newTestEvaluator(t, DefaultPolicy())

	t.Run("zero citations always block when citations are required", func(t *testing.T) {
		input := passingInput()
		input.Citations = nil

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusBlocked, evaluation.Status)
		assert.Equal(t, StatusBlocked, evaluation.Groundedness.Status)
		assert.Contains(t, evaluation.Groundedness.ReasonCodes, CodeNoCitations)
	})

	t.Run("citations that do not resolve to evidence block", func(t *testing.T) {
		input := passingInput()
		input.Citations = append(input.Citations, llm.Citation{ChunkID: "ghost", SourceURL: "https://wiki.example.com/b"})

		evaluation := evaluator.Evaluate(input)

		require.Equal(t, StatusBlocked, evaluation.Groundedness.Status)
		assert.Contains(t, evaluation.Groundedness.ReasonCodes, CodeLowCitationCoverage)
		assert.Contains(t, evaluation.Groundedness.ReasonCodes, CodeUnsupportedClaims)
		assert.Equal(t, 0.5, evaluation.Groundedness.Metrics["citationCoverage"])
		assert.Equal(t, 1.0, evaluation.Groundedness.Metrics["unsupportedClaimCount"])
	})

	t.Run("fully resolved citations pass", func(t *testing.T) {
		evaluation := evaluator.Evaluate(passingInput())

		assert.Equal(t, StatusPassed, evaluation.Status)
		assert.Equal(t, StatusPassed, evaluation.Groundedness.Status)
		assert.Equal(t, 1.0, evaluation.Groundedness.Metrics["citationCoverage"])
	})
}

func TestEvaluateFreshness(t *testing.T) {
	evaluator := newTestEvaluator(t, DefaultPolicy())

	t.Run("stale evidence blocks", func(t *testing.T) {
		input := passingInput()
		input.Chunks = []retrieval.DocumentChunk{staleChunk("c1", "doc-1")}

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusBlocked, evaluation.Freshness.Status)
		assert.Contains(t, evaluation.Freshness.ReasonCodes, CodeStaleEvidence)
	})

	t.Run("historical evidence relaxes the threshold without removing it", func(t *testing.T) {
		// One fresh citation out of four is 25%: below the default 50%
		// minimum, exactly at the relaxed 25%.
		input := passingInput()
		input.Citations = []llm.Citation{
			{ChunkID: "c1", SourceURL: "https://wiki.example.com/a"},
			{ChunkID: "c2", SourceURL: "https://wiki.example.com/b"},
			{ChunkID: "c3", SourceURL: "https://wiki.example.com/c"},
			{ChunkID: "c4", SourceURL: "https://wiki.example.com/d"},
		}
		input.Chunks = []retrieval.DocumentChunk{
			freshChunk("c1", "doc-1"),
			staleChunk("c2", "doc-1"),
			staleChunk("c3", "doc-1"),
			staleChunk("c4", "doc-1"),
		}

		strict := evaluator.Evaluate(input)
		assert.Equal(t, StatusBlocked, strict.Freshness.Status)

		input.AllowHistoricalEvidence = true
		relaxed := evaluator.Evaluate(input)
		assert.Equal(t, StatusPassed, relaxed.Freshness.Status)

		// All-stale evidence still blocks even with the relaxed threshold.
		input.Chunks[0] = staleChunk("c1", "doc-1")
		allStale := evaluator.Evaluate(input)
		assert.Equal(t, StatusBlocked, allStale.Freshness.Status)
	})

	t.Run("unparseable updated timestamps count as stale", func(t *testing.T) {
		input := passingInput()
		input.Chunks[0].UpdatedAt = "last tuesday"

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusBlocked, evaluation.Freshness.Status)
		assert.Equal(t, 0.0, evaluation.Freshness.Metrics["freshCitationCoverage"])
	})
}

func TestEvaluatePermissionSafety(t *testing.T) {
	evaluator := newTestEvaluator(t, DefaultPolicy())

	t.Run("missing viewer principal keys block even when everything else passes", func(t *testing.T) {
		input := passingInput()
		input.ViewerPrincipalKeys = nil

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusPassed, evaluation.Groundedness.Status)
		assert.Equal(t, StatusPassed, evaluation.Freshness.Status)
		assert.Equal(t, StatusBlocked, evaluation.PermissionSafety.Status)
		assert.Equal(t, StatusBlocked, evaluation.Status)
		assert.Contains(t, evaluation.PermissionSafety.ReasonCodes, CodeMissingPrincipalKeys)
	})

	t.Run("a cited source with no resolvable ACL blocks", func(t *testing.T) {
		input := passingInput()
		input.SourceACLs = map[string][]string{}

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusBlocked, evaluation.PermissionSafety.Status)
		assert.Contains(t, evaluation.PermissionSafety.ReasonCodes, CodeUnresolvableSourceACL)
	})

	t.Run("a viewer outside the source ACL blocks", func(t *testing.T) {
		input := passingInput()
		input.ViewerPrincipalKeys = []string{"group:marketing"}

		evaluation := evaluator.Evaluate(input)

		assert.Equal(t, StatusBlocked, evaluation.PermissionSafety.Status)
		assert.Contains(t, evaluation.PermissionSafety.ReasonCodes, CodePrincipalNotInACL)
	})

	t.Run("covered ACLs pass", func(t *testing.T) {
		evaluation := evaluator.Evaluate(passingInput())

		assert.Equal(t, StatusPassed, evaluation.PermissionSafety.Status)
	})
}

func TestEvaluationReasonsAggregate(t *testing.T) {
	evaluator := newTestEvaluator(t, DefaultPolicy())

	input := passingInput()
	input.Citations = nil
	input.ViewerPrincipalKeys = nil

	evaluation := evaluator.Evaluate(input)

	require.Equal(t, StatusBlocked, evaluation.Status)
	codes := evaluation.ReasonCodes()
	assert.Contains(t, codes, CodeNoCitations)
	assert.Contains(t, codes, CodeMissingPrincipalKeys)
	assert.Len(t, evaluation.Reasons(), len(codes))
}
