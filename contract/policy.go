// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package contract

// Dimension statuses. An evaluation never reports a third state; anything the
// evaluator cannot decide is blocked.
const (
	StatusPassed  = "passed"
	StatusBlocked = "blocked"
)

// PermissionModeFailClosed blocks whenever ACL evidence is missing or
// ambiguous. It is the only supported mode; unknown modes are treated as
// fail-closed.
const PermissionModeFailClosed = "fail_closed"

// Machine-readable reason codes attached to blocked dimensions.
const (
	CodeNoCitations           = "no_citations"
	CodeLowCitationCoverage   = "citation_coverage_below_minimum"
	CodeUnsupportedClaims     = "unsupported_claims_above_maximum"
	CodeStaleEvidence         = "fresh_citation_coverage_below_minimum"
	CodeMissingPrincipalKeys  = "missing_viewer_principal_keys"
	CodeUnresolvableSourceACL = "unresolvable_source_acl"
	CodePrincipalNotInACL     = "principal_not_in_source_acl"
)

// GroundednessPolicy gates how well the answer is tied to retrieved evidence.
type GroundednessPolicy struct {
	RequireCitations     bool    `json:"requireCitations"`
	MinCitationCoverage  float64 `json:"minCitationCoverage"`
	MaxUnsupportedClaims int     `json:"maxUnsupportedClaims"`
}

// FreshnessPolicy gates how recent the cited evidence must be. The relaxed
// threshold applies when the caller opted into historical evidence; it lowers
// the bar but never removes it.
type FreshnessPolicy struct {
	WindowDays                   int     `json:"windowDays"`
	MinFreshCitationCoverage     float64 `json:"minFreshCitationCoverage"`
	RelaxedFreshCitationCoverage float64 `json:"relaxedFreshCitationCoverage"`
}

// PermissionSafetyPolicy gates whether the viewer is allowed to see the cited
// sources.
type PermissionSafetyPolicy struct {
	Mode string `json:"mode"`
}

// Policy is the full answer quality contract an answer must satisfy before it
// is shown to a user.
type Policy struct {
	Groundedness     GroundednessPolicy     `json:"groundedness"`
	Freshness        FreshnessPolicy        `json:"freshness"`
	PermissionSafety PermissionSafetyPolicy `json:"permissionSafety"`
}

// DefaultPolicy returns the production contract defaults.
func DefaultPolicy() Policy {
	return Policy{
		Groundedness: GroundednessPolicy{
			RequireCitations:     true,
			MinCitationCoverage:  0.8,
			MaxUnsupportedClaims: 0,
		},
		Freshness: FreshnessPolicy{
			WindowDays:                   180,
			MinFreshCitationCoverage:     0.5,
			RelaxedFreshCitationCoverage: 0.25,
		},
		PermissionSafety: PermissionSafetyPolicy{
			Mode: PermissionModeFailClosed,
		},
	}
}
