// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"context"
	"strings"
)

const (
	// NoContextAnswer is returned when retrieval produced nothing to ground
	// an answer in. Surfaced explicitly rather than fabricating an answer.
	NoContextAnswer = "I could not find any relevant context to answer this question."

	mockConfidenceWithContext = 0.78
	mockConfidenceNoContext   = 0.2

	mockSummaryLimit = 280
)

// Mock is a deterministic Provider for tests and offline benchmarks. It
// echoes the top context chunk and cites it.
type Mock struct{}

// NewMock creates a deterministic mock provider.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string {
	return "mock"
}

func (m *Mock) AnswerQuestion(_ context.Context, req AnswerRequest) (*AnswerResult, error) {
	if len(req.Chunks) == 0 {
		return &AnswerResult{
			Answer:     NoContextAnswer,
			Citations:  []Citation{},
			Confidence: mockConfidenceNoContext,
		}, nil
	}

	top := req.Chunks[0]
	citations := make([]Citation, 0, len(req.Chunks))
	scoreSum := 0
	for _, chunk := range req.Chunks {
		citations = append(citations, Citation{
			ChunkID:      chunk.ChunkID,
			DocVersionID: chunk.DocVersionID,
			SourceURL:    chunk.SourceURL,
			StartOffset:  0,
			EndOffset:    len(chunk.Text),
		})
		scoreSum += chunk.SourceScore
	}

	return &AnswerResult{
		Answer:      top.Text,
		Citations:   citations,
		Confidence:  mockConfidenceWithContext,
		SourceScore: scoreSum / len(req.Chunks),
	}, nil
}

func (m *Mock) Summarize(_ context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= mockSummaryLimit {
		return trimmed, nil
	}
	return trimmed[:mockSummaryLimit], nil
}
