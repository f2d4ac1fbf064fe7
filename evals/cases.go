// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package evals

// BuiltinCases is the stable benchmark set run as a regression gate. Keep
// additions append-only so score history stays comparable across runs.
func BuiltinCases() []Case {
	return []Case{
		{
			ID:                       "deploy-runbook",
			Query:                    "How do we roll back a bad production deploy?",
			Mode:                     "grounded",
			SourceType:               "confluence",
			ExpectedAnyAnswerPhrases: []string{"rollback", "roll back", "previous release"},
		},
		{
			ID:                       "oncall-escalation",
			Query:                    "Who gets paged when the sync worker queue backs up?",
			Mode:                     "grounded",
			ExpectedAnyAnswerPhrases: []string{"on-call", "oncall", "escalation"},
		},
		{
			ID:                          "vpn-setup",
			Query:                       "How do I set up the office VPN on a new laptop?",
			Mode:                        "grounded",
			SourceType:                  "notion",
			ExpectedAnyCitationChunkIDs: []string{"vpn-setup-guide:0", "vpn-setup-guide:1"},
			ExpectedAnyAnswerPhrases:    []string{"vpn"},
		},
		{
			ID:                       "expense-policy",
			Query:                    "What is the per-diem limit for international travel?",
			Mode:                     "grounded",
			MinCitationCount:         1,
			ExpectedAnyAnswerPhrases: []string{"per diem", "per-diem", "daily limit"},
		},
		{
			ID:                       "incident-severity",
			Query:                    "When should an incident be classified as SEV-1?",
			Mode:                     "grounded",
			ExpectedAnyAnswerPhrases: []string{"sev-1", "sev1", "severity"},
		},
		{
			ID:                       "pto-carryover",
			Query:                    "How many vacation days carry over to next year?",
			Mode:                     "grounded",
			ExpectedAnyAnswerPhrases: []string{"carry over", "carryover", "vacation"},
		},
		{
			ID:                       "api-auth",
			Query:                    "Which header carries the service-to-service auth token?",
			Mode:                     "grounded",
			MinCitationCount:         2,
			ExpectedAnyAnswerPhrases: []string{"authorization", "bearer"},
		},
		{
			ID:                       "data-retention",
			Query:                    "How long do we retain customer event logs?",
			Mode:                     "grounded",
			ExpectedAnyAnswerPhrases: []string{"retention", "days", "purge"},
		},
	}
}
