// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/retrieval"
)

type countingObserver struct {
	requests int
	failures int
}

func (o *countingObserver) IncrementLLMRequests() { o.requests++ }
func (o *countingObserver) IncrementLLMErrors()   { o.failures++ }

type erroringProvider struct{}

func (p *erroringProvider) Name() string { return "erroring" }

func (p *erroringProvider) AnswerQuestion(_ context.Context, _ AnswerRequest) (*AnswerResult, error) {
	return nil, errors.New("upstream unavailable")
}

func (p *erroringProvider) Summarize(_ context.Context, _ string) (string, error) {
	return "", errors.New("upstream unavailable")
}

func TestInstrumentedProvider(t *testing.T) {
	chunks := []retrieval.DocumentChunk{{
		ChunkID:      "ver-1:0",
		DocVersionID: "ver-1",
		Text:         "The deploy pipeline runs nightly.",
	}}

	t.Run("counts successful answer requests", func(t *testing.T) {
		observer := &countingObserver{}
		provider := NewInstrumentedProvider(NewMock(), observer)

		result, err := provider.AnswerQuestion(context.Background(), AnswerRequest{Question: "when do deploys run?", Chunks: chunks})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, 1, observer.requests)
		assert.Equal(t, 0, observer.failures)
	})

	t.Run("counts failed answer requests as errors", func(t *testing.T) {
		observer := &countingObserver{}
		provider := NewInstrumentedProvider(&erroringProvider{}, observer)

		_, err := provider.AnswerQuestion(context.Background(), AnswerRequest{Question: "when do deploys run?", Chunks: chunks})
		require.Error(t, err)

		assert.Equal(t, 1, observer.requests)
		assert.Equal(t, 1, observer.failures)
	})

	t.Run("counts summarize calls", func(t *testing.T) {
		observer := &countingObserver{}
		provider := NewInstrumentedProvider(NewMock(), observer)

		_, err := provider.Summarize(context.Background(), "A long runbook page.")
		require.NoError(t, err)

		_, err = NewInstrumentedProvider(&erroringProvider{}, observer).Summarize(context.Background(), "A long runbook page.")
		require.Error(t, err)

		assert.Equal(t, 2, observer.requests)
		assert.Equal(t, 1, observer.failures)
	})

	t.Run("passes the wrapped name through", func(t *testing.T) {
		provider := NewInstrumentedProvider(NewMock(), nil)
		assert.Equal(t, "mock", provider.Name())

		result, err := provider.AnswerQuestion(context.Background(), AnswerRequest{Question: "q", Chunks: chunks})
		require.NoError(t, err)
		assert.NotEmpty(t, result.Answer)
	})
}
