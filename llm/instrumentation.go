// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import "context"

// MetricsObserver counts provider requests and failures.
type MetricsObserver interface {
	IncrementLLMRequests()
	IncrementLLMErrors()
}

// InstrumentedProvider wraps a Provider to count every request and failure.
type InstrumentedProvider struct {
	wrapped Provider
	metrics MetricsObserver
}

// NewInstrumentedProvider wraps a provider with request/error counting.
// metrics may be nil, in which case calls pass through uncounted.
func NewInstrumentedProvider(wrapped Provider, metrics MetricsObserver) *InstrumentedProvider {
	return &InstrumentedProvider{
		wrapped: wrapped,
		metrics: metrics,
	}
}

func (p *InstrumentedProvider) Name() string {
	return p.wrapped.Name()
}

func (p *InstrumentedProvider) AnswerQuestion(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if p.metrics != nil {
		p.metrics.IncrementLLMRequests()
	}

	result, err := p.wrapped.AnswerQuestion(ctx, req)
	if err != nil && p.metrics != nil {
		p.metrics.IncrementLLMErrors()
	}
	return result, err
}

func (p *InstrumentedProvider) Summarize(ctx context.Context, text string) (string, error) {
	if p.metrics != nil {
		p.metrics.IncrementLLMRequests()
	}

	summary, err := p.wrapped.Summarize(ctx, text)
	if err != nil && p.metrics != nil {
		p.metrics.IncrementLLMErrors()
	}
	return summary, err
}
