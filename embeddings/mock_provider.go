// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"hash/fnv"
)

// mockEmbeddingProvider generates deterministic embeddings without calling any
// upstream service. Identical text always produces identical vectors, which
// keeps retrieval functional without a live embedding provider and keeps
// results reproducible in tests.
type mockEmbeddingProvider struct {
	dimensions int
}

// NewMockEmbeddingProvider creates a mock embedding provider with repeatable
// output. A non-positive dimension count defaults to the OpenAI width.
func NewMockEmbeddingProvider(dimensions int) EmbeddingProvider {
	if dimensions <= 0 {
		dimensions = DimensionsOpenAI
	}

	return &mockEmbeddingProvider{
		dimensions: dimensions,
	}
}

func (m *mockEmbeddingProvider) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	return deterministicEmbedding(text, m.dimensions), nil
}

func (m *mockEmbeddingProvider) BatchCreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = deterministicEmbedding(text, m.dimensions)
	}

	return vectors, nil
}

func (m *mockEmbeddingProvider) Dimensions() int {
	return m.dimensions
}

func deterministicEmbedding(text string, dims int) []float32 {
	vector := make([]float32, dims)
	hasher := fnv.New32a()

	for i := 0; i < dims; i++ {
		_, _ = hasher.Write([]byte(text))
		_, _ = hasher.Write([]byte{byte(i), byte(i >> 8)})
		sum := hasher.Sum32()

		// Map the hash into [-1, 1] for stability
		vector[i] = (float32(sum%2000) / 1000.0) - 1.0
		hasher.Reset()
	}

	return vector
}
