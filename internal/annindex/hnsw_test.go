package annindex

import (
	"bytes"
	"fmt"
	"math"
	"testing"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestCosineDistance(t *testing.T) {
	same := CosineDistance([]float32{1, 0}, []float32{2, 0})
	if same > 1e-6 {
		t.Fatalf("parallel vectors should have distance 0, got %f", same)
	}
	ortho := CosineDistance([]float32{1, 0}, []float32{0, 1})
	if math.Abs(float64(ortho)-0.5) > 1e-6 {
		t.Fatalf("orthogonal vectors should have distance 0.5, got %f", ortho)
	}
	opposite := CosineDistance([]float32{1, 0}, []float32{-1, 0})
	if math.Abs(float64(opposite)-1) > 1e-6 {
		t.Fatalf("opposite vectors should have distance 1, got %f", opposite)
	}
	zero := CosineDistance([]float32{0, 0}, []float32{1, 0})
	if zero != 1 {
		t.Fatalf("zero vector should be maximally distant, got %f", zero)
	}
}

func TestInsertAndSearchFindsNearest(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	for i := 0; i < 50; i++ {
		vec := []float32{float32(i) + 1, float32(50 - i), 1, 1}
		if err := idx.Insert(fmt.Sprintf("n%02d", i), vec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	query := []float32{50, 1, 1, 1} // closest to n49's direction
	ids, dists := idx.Search(query, 5, 50)
	if len(ids) != 5 {
		t.Fatalf("expected 5 results, got %d", len(ids))
	}
	if ids[0] != "n49" {
		t.Fatalf("expected n49 nearest, got %s", ids[0])
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] < dists[i-1] {
			t.Fatalf("distances not ascending: %v", dists)
		}
	}
}

func TestReinsertReplacesVector(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	if err := idx.Insert("a", unitVec(4, 0)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert("a", unitVec(4, 1)); err != nil {
		t.Fatalf("re-Insert: %v", err)
	}

	ids, dists := idx.Search(unitVec(4, 1), 1, 10)
	if len(ids) != 1 || ids[0] != "a" || dists[0] > 1e-6 {
		t.Fatalf("reinserted vector not found: ids=%v dists=%v", ids, dists)
	}
}

func TestDeleteRemovesFromResults(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	for i := 0; i < 10; i++ {
		if err := idx.Insert(fmt.Sprintf("n%d", i), []float32{float32(i + 1), 1, 1, 1}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Delete("n3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := idx.Delete("ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ids, _ := idx.Search([]float32{4, 1, 1, 1}, 10, 50)
	for _, id := range ids {
		if id == "n3" {
			t.Fatalf("deleted node still returned")
		}
	}
	if idx.Size() != 9 {
		t.Fatalf("expected size 9 after delete, got %d", idx.Size())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	for i := 0; i < 25; i++ {
		if err := idx.Insert(fmt.Sprintf("n%02d", i), []float32{float32(i) + 1, float32(25 - i), 1, 1}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := New(16, 200, CosineDistance)
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.Size() != idx.Size() {
		t.Fatalf("size mismatch after load: %d vs %d", restored.Size(), idx.Size())
	}

	query := []float32{25, 1, 1, 1}
	wantIDs, _ := idx.Search(query, 3, 50)
	gotIDs, _ := restored.Search(query, 3, 50)
	for i := range wantIDs {
		if wantIDs[i] != gotIDs[i] {
			t.Fatalf("search differs after round trip: %v vs %v", wantIDs, gotIDs)
		}
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	if err := idx.Load(bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef})); err == nil {
		t.Fatalf("expected error loading garbage snapshot")
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(16, 200, CosineDistance)
	ids, dists := idx.Search(unitVec(4, 0), 5, 10)
	if ids != nil || dists != nil {
		t.Fatalf("expected nil results on empty index")
	}
}
