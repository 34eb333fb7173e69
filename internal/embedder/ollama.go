package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ollamaModel talks to an Ollama instance's /api/embeddings endpoint.
// Ollama has no native batch endpoint, so requests are issued sequentially.
type ollamaModel struct {
	baseURL string
	name    string
	dim     int
	client  *http.Client
}

// knownOllamaDims covers the models this adapter is configured against; an
// unrecognized model name falls back to 768 (nomic-embed-text's dimension).
var knownOllamaDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// NewOllamaLoader builds a Loader that targets a local or remote Ollama
// server. This package does not register it under any model id; a caller
// passes it to Register. deviceHint is accepted for interface symmetry but
// ignored: Ollama selects its own compute device.
func NewOllamaLoader(baseURL, modelName string) Loader {
	dim, ok := knownOllamaDims[modelName]
	if !ok {
		dim = 768
	}
	return func(_ string) (Model, error) {
		return &ollamaModel{
			baseURL: baseURL,
			name:    modelName,
			dim:     dim,
			client:  &http.Client{Timeout: 60 * time.Second},
		}, nil
	}
}

func (m *ollamaModel) Dim() int { return m.dim }

func (m *ollamaModel) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.encodeOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (m *ollamaModel) encodeOne(ctx context.Context, text string) ([]float32, error) {
	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{Model: m.name, Prompt: text}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, msg)
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	vec := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
