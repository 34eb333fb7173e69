package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// localHashModel produces deterministic unit vectors from a text hash. It
// has no notion of semantic similarity and exists for offline development
// and tests.
type localHashModel struct {
	dim int
}

// NewLocalHashLoader builds a Loader for a deterministic, non-semantic
// embedder of the given dimension. This package's init registers the
// 384-dimension instance under model id "local-hash-384"; other dimensions
// are available only to callers that Register them.
func NewLocalHashLoader(dim int) Loader {
	return func(_ string) (Model, error) {
		return &localHashModel{dim: dim}, nil
	}
}

func (m *localHashModel) Dim() int { return m.dim }

func (m *localHashModel) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.encodeOne(text)
	}
	return out, nil
}

func (m *localHashModel) encodeOne(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, m.dim)
	for i := 0; i < m.dim; i++ {
		vec[i] = float32(math.Sin(float64(seed*uint32(i+1)) * 0.1))
	}

	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func init() {
	Register("local-hash-384", NewLocalHashLoader(384))
}
