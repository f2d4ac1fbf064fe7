// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/retrieval"
)

func validAnswerJSON() string {
	return `{
		"answer": "The deploy pipeline runs nightly.",
		"citations": [
			{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "https://wiki.example.com/deploys", "startOffset": 0, "endOffset": 42}
		],
		"confidence": 0.9,
		"sourceScore": 80
	}`
}

func TestParseAnswerResult(t *testing.T) {
	t.Run("valid output parses", func(t *testing.T) {
		result, err := ParseAnswerResult(validAnswerJSON())
		require.NoError(t, err)
		assert.Equal(t, "The deploy pipeline runs nightly.", result.Answer)
		require.Len(t, result.Citations, 1)
		assert.Equal(t, "c1", result.Citations[0].ChunkID)
	})

	t.Run("non-JSON is rejected", func(t *testing.T) {
		_, err := ParseAnswerResult("I think the answer is 42")
		require.Error(t, err)
	})

	t.Run("empty answer is rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "", "citations": [{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "https://a.example.com", "startOffset": 0, "endOffset": 1}], "confidence": 0.5, "sourceScore": 50}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "answer")
	})

	t.Run("missing citations are rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "yes", "citations": [], "confidence": 0.5, "sourceScore": 50}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "citation")
	})

	t.Run("confidence out of range is rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "yes", "citations": [{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "https://a.example.com", "startOffset": 0, "endOffset": 1}], "confidence": 1.5, "sourceScore": 50}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence")
	})

	t.Run("source score out of range is rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "yes", "citations": [{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "https://a.example.com", "startOffset": 0, "endOffset": 1}], "confidence": 0.5, "sourceScore": 101}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sourceScore")
	})

	t.Run("inverted offsets are rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "yes", "citations": [{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "https://a.example.com", "startOffset": 10, "endOffset": 2}], "confidence": 0.5, "sourceScore": 50}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endOffset")
	})

	t.Run("relative source URL is rejected", func(t *testing.T) {
		_, err := ParseAnswerResult(`{"answer": "yes", "citations": [{"chunkId": "c1", "docVersionId": "v1", "sourceUrl": "/wiki/deploys", "startOffset": 0, "endOffset": 1}], "confidence": 0.5, "sourceScore": 50}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sourceUrl")
	})
}

func TestMockProvider(t *testing.T) {
	mock := NewMock()

	t.Run("echoes the top chunk with fixed confidence", func(t *testing.T) {
		result, err := mock.AnswerQuestion(context.Background(), AnswerRequest{
			Question: "how do deploys work?",
			Chunks: []retrieval.DocumentChunk{
				{ChunkID: "c1", DocVersionID: "v1", Text: "Deploys run nightly.", SourceURL: "https://wiki.example.com/deploys", SourceScore: 90},
				{ChunkID: "c2", DocVersionID: "v2", Text: "Rollbacks are manual.", SourceURL: "https://wiki.example.com/rollbacks", SourceScore: 70},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Deploys run nightly.", result.Answer)
		assert.Equal(t, 0.78, result.Confidence)
		assert.Equal(t, 80, result.SourceScore)
		require.Len(t, result.Citations, 2)
		assert.Equal(t, "c1", result.Citations[0].ChunkID)
		assert.Equal(t, len("Deploys run nightly."), result.Citations[0].EndOffset)
	})

	t.Run("reports no context explicitly", func(t *testing.T) {
		result, err := mock.AnswerQuestion(context.Background(), AnswerRequest{Question: "anything"})
		require.NoError(t, err)
		assert.Equal(t, NoContextAnswer, result.Answer)
		assert.Equal(t, 0.2, result.Confidence)
		assert.Empty(t, result.Citations)
	})

	t.Run("summarize truncates deterministically", func(t *testing.T) {
		long := ""
		for range 40 {
			long += "ten chars "
		}
		summary, err := mock.Summarize(context.Background(), long)
		require.NoError(t, err)
		assert.Len(t, summary, 280)

		again, err := mock.Summarize(context.Background(), long)
		require.NoError(t, err)
		assert.Equal(t, summary, again)
	})
}
