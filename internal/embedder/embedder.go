// Package embedder implements the Embedding Model Adapter: it is the sole
// place that knows about model-specific quirks and hands the rest of the
// engine opaque fixed-dimension vectors.
package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/forensics/semsearch/internal/errs"
)

// Model is implemented once per interchangeable embedding backend (local
// sentence-transformer, remote inference API, etc). Encode must be
// deterministic for a given model configuration.
type Model interface {
	// EncodeBatch returns one vector per input text, same order.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Loader materializes a Model for a given device hint. Registered once per
// model id via Register.
type Loader func(deviceHint string) (Model, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Loader{}
)

// Register associates a model id with the loader that can materialize it.
// Call from an init() in the package that implements a concrete backend.
func Register(modelID string, loader Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[modelID] = loader
}

// Handle is an opaque, cached reference to a loaded model returned by Load.
// Downstream code only ever sees Dim/ModelID and passes the handle back to
// Encode; it never touches the underlying Model directly.
type Handle struct {
	modelID    string
	deviceHint string
	model      Model
	// mu serializes calls into the underlying model; none of the shipped
	// backends advertise their own thread-safety.
	mu sync.Mutex
}

func (h *Handle) Dim() int        { return h.model.Dim() }
func (h *Handle) ModelID() string { return h.modelID }

type cacheKey struct {
	modelID    string
	deviceHint string
}

var (
	cacheMu sync.Mutex
	cache   = map[cacheKey]*Handle{}
)

// Load returns a cached handle for (modelID, deviceHint), loading it at most
// once per process.
func Load(modelID, deviceHint string) (*Handle, error) {
	key := cacheKey{modelID, deviceHint}

	// cacheMu is held across the load so concurrent first calls for the
	// same key wait for one load instead of each running the loader.
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if h, ok := cache[key]; ok {
		return h, nil
	}

	registryMu.Lock()
	loader, ok := registry[modelID]
	registryMu.Unlock()
	if !ok {
		return nil, errs.Newf(errs.KindModelUnavailable, "embedder.Load", "no loader registered for model %q", modelID)
	}

	model, err := loader(deviceHint)
	if err != nil {
		return nil, errs.Newf(errs.KindModelUnavailable, "embedder.Load", "load model %q on device %q: %v", modelID, deviceHint, err)
	}

	h := &Handle{modelID: modelID, deviceHint: deviceHint, model: model}
	cache[key] = h
	return h, nil
}

// resetCache is used by tests to avoid cross-test cache pollution.
func resetCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = map[cacheKey]*Handle{}
}

// Encode turns texts into one vector per input, same order, batching
// internally in groups of batchSize for throughput.
func Encode(ctx context.Context, h *Handle, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		h.mu.Lock()
		vectors, err := h.model.EncodeBatch(ctx, texts[start:end])
		h.mu.Unlock()
		if err != nil {
			return nil, errs.New(errs.KindEncodeFailed, "embedder.Encode", fmt.Errorf("batch [%d:%d]: %w", start, end, err))
		}
		if len(vectors) != end-start {
			return nil, errs.Newf(errs.KindEncodeFailed, "embedder.Encode",
				"model %q returned %d vectors for %d inputs", h.modelID, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
