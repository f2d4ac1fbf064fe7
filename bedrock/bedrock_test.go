// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package bedrock

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internalwiki/assistant/llm"
)

func TestNew(t *testing.T) {
	t.Run("static IAM credentials", func(t *testing.T) {
		client, err := New(llm.ServiceConfig{
			Region:             "us-east-1",
			AWSAccessKeyID:     "AKIATEST",
			AWSSecretAccessKey: "secret",
			DefaultModel:       "anthropic.claude-3-5-sonnet-20241022-v2:0",
		}, http.DefaultClient)
		require.NoError(t, err)

		assert.Equal(t, "bedrock", client.Name())
		assert.Equal(t, "us-east-1", client.region)
		assert.Equal(t, DefaultMaxTokens, client.outputTokenLimit)
	})

	t.Run("bearer token auth", func(t *testing.T) {
		client, err := New(llm.ServiceConfig{
			Region:           "us-west-2",
			APIKey:           "bedrock-console-key",
			DefaultModel:     "anthropic.claude-3-5-haiku-20241022-v1:0",
			OutputTokenLimit: 512,
		}, http.DefaultClient)
		require.NoError(t, err)

		assert.Equal(t, 512, client.outputTokenLimit)
	})
}
