package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockEmbeddingService produces deterministic pseudo-embeddings from token
// hashes. Texts sharing words get correlated vectors, which is enough for
// tests and offline development. Not a substitute for a real model.
type MockEmbeddingService struct {
	dimensions int
}

// NewMockEmbeddingService creates a deterministic embedding service.
func NewMockEmbeddingService(dimensions int) *MockEmbeddingService {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbeddingService{dimensions: dimensions}
}

func (s *MockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, s.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(word))
		seed := h.Sum64()
		for i := 0; i < s.dimensions; i++ {
			// xorshift keeps each word's contribution spread over all dims.
			seed ^= seed << 13
			seed ^= seed >> 7
			seed ^= seed << 17
			vector[i] += float32(int64(seed%2000)-1000) / 1000.0
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (s *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (s *MockEmbeddingService) Dimensions() int {
	return s.dimensions
}
