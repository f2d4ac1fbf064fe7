// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package anthropic

import (
	"context"
	"net/http"
	"strings"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/llm"
)

const DefaultMaxTokens = 8192

type Anthropic struct {
	client           anthropicSDK.Client
	defaultModel     string
	outputTokenLimit int
}

func New(llmService llm.ServiceConfig, httpClient *http.Client) *Anthropic {
	client := anthropicSDK.NewClient(
		option.WithAPIKey(llmService.APIKey),
		option.WithHTTPClient(httpClient),
	)

	defaultModel := llmService.DefaultModel
	if defaultModel == "" {
		defaultModel = string(anthropicSDK.ModelClaudeSonnet4_20250514)
	}
	outputTokenLimit := llmService.OutputTokenLimit
	if outputTokenLimit <= 0 {
		outputTokenLimit = DefaultMaxTokens
	}

	return &Anthropic{
		client:           client,
		defaultModel:     defaultModel,
		outputTokenLimit: outputTokenLimit,
	}
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

// AnswerQuestion asks for a JSON answer and parses it through the strict
// schema before anything downstream sees it.
func (a *Anthropic) AnswerQuestion(ctx context.Context, req llm.AnswerRequest) (*llm.AnswerResult, error) {
	message, err := a.client.Messages.New(ctx, anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(a.defaultModel),
		MaxTokens: int64(a.outputTokenLimit),
		System: []anthropicSDK.TextBlockParam{
			{Text: llm.AnswerSystemPrompt},
		},
		Messages: []anthropicSDK.MessageParam{
			anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(llm.BuildAnswerPrompt(req))),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "anthropic completion failed")
	}

	result, err := llm.ParseAnswerResult(textContent(message))
	if err != nil {
		return nil, errors.Wrap(err, "anthropic returned an invalid answer")
	}

	return result, nil
}

func (a *Anthropic) Summarize(ctx context.Context, text string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(a.defaultModel),
		MaxTokens: int64(a.outputTokenLimit),
		System: []anthropicSDK.TextBlockParam{
			{Text: llm.SummarizeSystemPrompt},
		},
		Messages: []anthropicSDK.MessageParam{
			anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "anthropic summarize failed")
	}

	return strings.TrimSpace(textContent(message)), nil
}

// textContent concatenates the text blocks of a response.
func textContent(message *anthropicSDK.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
