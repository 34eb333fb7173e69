package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/forensics/semsearch/internal/errs"
)

func TestLoadCachesHandlePerModelAndDevice(t *testing.T) {
	resetCache()

	h1, err := Load("local-hash-384", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h2, err := Load("local-hash-384", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same cached handle for identical (model, device)")
	}

	h3, err := Load("local-hash-384", "cpu")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h1 == h3 {
		t.Fatalf("a different device hint must yield a distinct handle")
	}
}

func TestLoadUnknownModelIsModelUnavailable(t *testing.T) {
	resetCache()
	_, err := Load("no-such-model", "")
	if !errs.Is(err, errs.KindModelUnavailable) {
		t.Fatalf("expected ModelUnavailable, got %v", err)
	}
}

func TestEncodeReturnsOneVectorPerInputInOrder(t *testing.T) {
	resetCache()
	h, err := Load("local-hash-384", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	texts := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	vecs, err := Encode(context.Background(), h, texts, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != h.Dim() {
			t.Fatalf("vector %d has dimension %d, want %d", i, len(v), h.Dim())
		}
	}

	// Batching must not change the result.
	whole, err := Encode(context.Background(), h, texts, len(texts))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := range whole {
		for j := range whole[i] {
			if whole[i][j] != vecs[i][j] {
				t.Fatalf("batch size changed vector %d at component %d", i, j)
			}
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	resetCache()
	h, err := Load("local-hash-384", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, text := range []string{"burner phone", ""} {
		a, err := Encode(context.Background(), h, []string{text}, 1)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		b, err := Encode(context.Background(), h, []string{text}, 1)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		for i := range a[0] {
			if a[0][i] != b[0][i] {
				t.Fatalf("encoding of %q not deterministic at component %d", text, i)
			}
		}
	}
}

type failingModel struct{}

func (failingModel) Dim() int { return 4 }
func (failingModel) EncodeBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("backend exploded")
}

func TestEncodeWrapsModelErrors(t *testing.T) {
	resetCache()
	Register("failing-model", func(string) (Model, error) { return failingModel{}, nil })

	h, err := Load("failing-model", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = Encode(context.Background(), h, []string{"x"}, 1)
	if !errs.Is(err, errs.KindEncodeFailed) {
		t.Fatalf("expected EncodeFailed, got %v", err)
	}
}

type miscountingModel struct{}

func (miscountingModel) Dim() int { return 4 }
func (miscountingModel) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 2, 3, 4}}, nil // always one vector, regardless of input count
}

func TestEncodeRejectsVectorCountMismatch(t *testing.T) {
	resetCache()
	Register("miscounting-model", func(string) (Model, error) { return miscountingModel{}, nil })

	h, err := Load("miscounting-model", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = Encode(context.Background(), h, []string{"a", "b"}, 2)
	if !errs.Is(err, errs.KindEncodeFailed) {
		t.Fatalf("expected EncodeFailed on count mismatch, got %v", err)
	}
}
