// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/azure"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/llm"
)

type Config struct {
	APIKey              string        `json:"apiKey"`
	APIURL              string        `json:"apiURL"`
	OrgID               string        `json:"orgID"`
	DefaultModel        string        `json:"defaultModel"`
	OutputTokenLimit    int           `json:"outputTokenLimit"`
	RequestTimeout      time.Duration `json:"requestTimeout"`
	EmbeddingModel      string        `json:"embeddingModel"`
	EmbeddingDimensions int           `json:"embeddingDimensions"`
}

// OpenAI answers questions through the chat completions API and doubles as
// the embedding provider for retrieval.
type OpenAI struct {
	client openai.Client
	config Config
}

const defaultOutputTokenLimit = 1024

func NewAzure(config Config, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		azure.WithEndpoint(strings.TrimSuffix(config.APIURL, "/"), "2025-04-01-preview"),
		azure.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		config: withDefaults(config),
	}
}

func NewCompatible(config Config, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithBaseURL(strings.TrimSuffix(config.APIURL, "/")),
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		config: withDefaults(config),
	}
}

func New(config Config, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
	}

	if config.OrgID != "" {
		opts = append(opts, option.WithOrganization(config.OrgID))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		config: withDefaults(config),
	}
}

func withDefaults(config Config) Config {
	if config.DefaultModel == "" {
		config.DefaultModel = openai.ChatModelGPT4o
	}
	if config.OutputTokenLimit <= 0 {
		config.OutputTokenLimit = defaultOutputTokenLimit
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
		config.EmbeddingDimensions = 1536
	}
	return config
}

func (s *OpenAI) Name() string {
	return "openai"
}

// AnswerQuestion asks for a JSON answer and parses it through the strict
// schema. Output that fails the parse is a generation failure, never a
// degraded answer.
func (s *OpenAI) AnswerQuestion(ctx context.Context, req llm.AnswerRequest) (*llm.AnswerResult, error) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: s.config.DefaultModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llm.AnswerSystemPrompt),
			openai.UserMessage(llm.BuildAnswerPrompt(req)),
		},
		MaxTokens:   openai.Int(int64(s.config.OutputTokenLimit)),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai completion failed")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	result, err := llm.ParseAnswerResult(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, errors.Wrap(err, "openai returned an invalid answer")
	}

	return result, nil
}

func (s *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.config.DefaultModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llm.SummarizeSystemPrompt),
			openai.UserMessage(text),
		},
		MaxTokens:   openai.Int(int64(s.config.OutputTokenLimit)),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", errors.Wrap(err, "openai summarize failed")
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// CreateEmbedding embeds one text.
func (s *OpenAI) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.BatchCreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// BatchCreateEmbeddings embeds multiple texts in a single API call.
func (s *OpenAI) BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: getEmbeddingModelConstant(s.config.EmbeddingModel),
	}
	if s.config.EmbeddingDimensions > 0 {
		params.Dimensions = openai.Int(int64(s.config.EmbeddingDimensions))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embeddings batch")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embedding := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			embedding[j] = float32(v)
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

// getEmbeddingModelConstant converts string model names to the SDK's
// embedding model constants; custom model names pass through as-is.
func getEmbeddingModelConstant(model string) openai.EmbeddingModel {
	switch model {
	case "text-embedding-3-large":
		return openai.EmbeddingModelTextEmbedding3Large
	case "text-embedding-3-small":
		return openai.EmbeddingModelTextEmbedding3Small
	case "text-embedding-ada-002":
		return openai.EmbeddingModelTextEmbeddingAda002
	default:
		return model
	}
}

func (s *OpenAI) Dimensions() int {
	return s.config.EmbeddingDimensions
}
