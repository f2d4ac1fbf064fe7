// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"context"

	"github.com/internalwiki/assistant/retrieval"
)

// Provider is the answer-generation collaborator. Implementations must be
// swappable at startup: the deterministic mock for tests and offline
// benchmarks, the API-backed providers in production.
type Provider interface {
	Name() string
	AnswerQuestion(ctx context.Context, req AnswerRequest) (*AnswerResult, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// AnswerRequest carries the question together with the ranked context chunks
// the answer must be grounded in.
type AnswerRequest struct {
	Question string                    `json:"question"`
	Chunks   []retrieval.DocumentChunk `json:"chunks"`
}

// Citation points from an answer into the evidence that supports it.
// Offsets are a half-open range into the chunk text.
type Citation struct {
	ChunkID      string `json:"chunkId"`
	DocVersionID string `json:"docVersionId"`
	SourceURL    string `json:"sourceUrl"`
	StartOffset  int    `json:"startOffset"`
	EndOffset    int    `json:"endOffset"`
}

// AnswerResult is the provider output after schema validation.
type AnswerResult struct {
	Answer      string     `json:"answer"`
	Citations   []Citation `json:"citations"`
	Confidence  float64    `json:"confidence"`
	SourceScore int        `json:"sourceScore"`
}

// ServiceConfig describes one configured provider service.
type ServiceConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	APIKey       string `json:"apiKey"`
	OrgID        string `json:"orgId"`
	DefaultModel string `json:"defaultModel"`
	APIURL       string `json:"apiURL"`

	InputTokenLimit  int `json:"inputTokenLimit"`
	OutputTokenLimit int `json:"outputTokenLimit"`

	// AWS credentials, only applicable to the bedrock service type
	Region             string `json:"region"`
	AWSAccessKeyID     string `json:"awsAccessKeyID"`
	AWSSecretAccessKey string `json:"awsSecretAccessKey"`

	// UseResponsesAPI determines whether to use the OpenAI Responses API.
	// Only applicable to OpenAI and OpenAI-compatible services.
	UseResponsesAPI bool `json:"useResponsesAPI"`
}

// Service types accepted in ServiceConfig.Type.
const (
	ServiceTypeMock             = "mock"
	ServiceTypeOpenAI           = "openai"
	ServiceTypeOpenAICompatible = "openaicompatible"
	ServiceTypeAzure            = "azure"
	ServiceTypeAnthropic        = "anthropic"
	ServiceTypeBedrock          = "bedrock"
)
