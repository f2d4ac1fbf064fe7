// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package bedrock

import (
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/auth/bearer"
	"github.com/pkg/errors"

	"github.com/internalwiki/assistant/llm"
)

const DefaultMaxTokens = 8192

type Bedrock struct {
	client           *bedrockruntime.Client
	defaultModel     string
	outputTokenLimit int
	region           string
}

func New(llmService llm.ServiceConfig, httpClient *http.Client) (*Bedrock, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(llmService.Region),
		config.WithHTTPClient(httpClient),
	}

	// Authentication priority: IAM credentials > Bedrock console API key
	// (bearer token) > the SDK's default credential chain.
	var clientOpts []func(*bedrockruntime.Options)

	if llmService.AWSAccessKeyID != "" && llmService.AWSSecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(
					llmService.AWSAccessKeyID,
					llmService.AWSSecretAccessKey,
					"",
				),
			),
		))
	} else if llmService.APIKey != "" {
		// Disable default credentials to force bearer token authentication.
		configOpts = append(configOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))

		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.Credentials = aws.AnonymousCredentials{}
			o.BearerAuthTokenProvider = bearer.TokenProviderFunc(func(ctx context.Context) (bearer.Token, error) {
				return bearer.Token{Value: llmService.APIKey}, nil
			})
			o.AuthSchemePreference = []string{"httpBearerAuth"}
		})
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	// A custom APIURL serves proxies and VPC endpoints.
	if llmService.APIURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(llmService.APIURL)
		})
	}

	outputTokenLimit := llmService.OutputTokenLimit
	if outputTokenLimit <= 0 {
		outputTokenLimit = DefaultMaxTokens
	}

	return &Bedrock{
		client:           bedrockruntime.NewFromConfig(cfg, clientOpts...),
		defaultModel:     llmService.DefaultModel,
		outputTokenLimit: outputTokenLimit,
		region:           llmService.Region,
	}, nil
}

func (b *Bedrock) Name() string {
	return "bedrock"
}

// AnswerQuestion asks for a JSON answer via the Converse API and parses it
// through the strict schema.
func (b *Bedrock) AnswerQuestion(ctx context.Context, req llm.AnswerRequest) (*llm.AnswerResult, error) {
	text, err := b.converse(ctx, llm.AnswerSystemPrompt, llm.BuildAnswerPrompt(req))
	if err != nil {
		return nil, errors.Wrap(err, "bedrock completion failed")
	}

	result, err := llm.ParseAnswerResult(text)
	if err != nil {
		return nil, errors.Wrap(err, "bedrock returned an invalid answer")
	}

	return result, nil
}

func (b *Bedrock) Summarize(ctx context.Context, text string) (string, error) {
	summary, err := b.converse(ctx, llm.SummarizeSystemPrompt, text)
	if err != nil {
		return "", errors.Wrap(err, "bedrock summarize failed")
	}

	return strings.TrimSpace(summary), nil
}

func (b *Bedrock) converse(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	output, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.defaultModel),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: userPrompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(b.outputTokenLimit)),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return "", err
	}

	message, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.Errorf("unexpected converse output type %T", output.Output)
	}

	var sb strings.Builder
	for _, block := range message.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	return sb.String(), nil
}
