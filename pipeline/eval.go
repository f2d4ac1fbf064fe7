// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package pipeline

import (
	"context"

	"github.com/internalwiki/assistant/evals"
)

// BenchmarkExecutor adapts the live pipeline into the eval harness's executor.
// The supplied permission context is applied to every case so benchmark runs
// grade retrieval quality, not ACL configuration.
func (s *Service) BenchmarkExecutor(viewerPrincipalKeys []string, sourceACLs map[string][]string) evals.Execute {
	return func(ctx context.Context, organizationID string, benchmarkCase evals.Case) (*evals.Response, error) {
		response, err := s.Query(ctx, QueryRequest{
			OrganizationID:      organizationID,
			Question:            benchmarkCase.Query,
			Mode:                benchmarkCase.Mode,
			SourceType:          benchmarkCase.SourceType,
			ViewerPrincipalKeys: viewerPrincipalKeys,
			SourceACLs:          sourceACLs,
		})
		if err != nil {
			return nil, err
		}

		chunkIDs := make([]string, 0, len(response.Citations))
		for _, citation := range response.Citations {
			chunkIDs = append(chunkIDs, citation.ChunkID)
		}

		return &evals.Response{
			Answer:           response.Answer,
			CitationChunkIDs: chunkIDs,
			CitationCoverage: response.Grounding.CitationCoverage,
		}, nil
	}
}
