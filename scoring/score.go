// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package scoring

import (
	"math"
	"time"
)

// ModelVersion identifies the weighting scheme used to compute a score.
// Persisted alongside every score so historical values stay interpretable
// after weight changes; new computations always use the current version.
const ModelVersion = "source-score-v2"

// Half-life of the recency factor.
const recencyHalfLife = 14 * 24 * time.Hour

// Factor weights. Must sum to 1.
const (
	weightRecency          = 0.35
	weightSourceAuthority  = 0.25
	weightAuthorAuthority  = 0.20
	weightCitationCoverage = 0.20
)

// Factors holds the individual trust signals, each in [0,1].
type Factors struct {
	Recency          float64 `json:"recency"`
	SourceAuthority  float64 `json:"sourceAuthority"`
	AuthorAuthority  float64 `json:"authorAuthority"`
	CitationCoverage float64 `json:"citationCoverage"`
}

// SourceScore is a composite 0-100 trust score for a document.
type SourceScore struct {
	Total        int       `json:"total"`
	Factors      Factors   `json:"factors"`
	ComputedAt   time.Time `json:"computedAt"`
	ModelVersion string    `json:"modelVersion"`
}

// ComputeSourceScore blends recency with the authority factors supplied by
// connector metadata into a single 0-100 score. All factor inputs are clamped
// to [0,1]; NaN clamps to 0. Never returns an error: an unparseable updatedAt
// is treated as maximally stale.
func ComputeSourceScore(updatedAt string, sourceAuthority, authorAuthority, citationCoverage float64, now time.Time) SourceScore {
	factors := Factors{
		Recency:          RecencyDecay(updatedAt, now),
		SourceAuthority:  clamp01(sourceAuthority),
		AuthorAuthority:  clamp01(authorAuthority),
		CitationCoverage: clamp01(citationCoverage),
	}

	weighted := factors.Recency*weightRecency +
		factors.SourceAuthority*weightSourceAuthority +
		factors.AuthorAuthority*weightAuthorAuthority +
		factors.CitationCoverage*weightCitationCoverage

	return SourceScore{
		Total:        int(math.Round(clamp01(weighted) * 100)),
		Factors:      factors,
		ComputedAt:   now,
		ModelVersion: ModelVersion,
	}
}

// RecencyDecay returns the exponential decay factor for a document last
// updated at updatedAt (RFC 3339). Documents updated now score 1, documents a
// half-life old score 0.5. Unparseable or empty timestamps score 0.
func RecencyDecay(updatedAt string, now time.Time) float64 {
	parsed, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}

	age := now.Sub(parsed)
	if age <= 0 {
		return 1
	}

	decay := math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
	return clamp01(decay)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
