// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import "context"

// Dimensions for the embedding models in use.
const (
	DimensionsOpenAI = 1536
	DimensionsNomic  = 768
)

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
