package search

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forensics/semsearch/internal/embedder"
	"github.com/forensics/semsearch/internal/filter"
	"github.com/forensics/semsearch/internal/model"
	"github.com/forensics/semsearch/internal/vstore"
)

func newTestStore(t *testing.T) *vstore.Store {
	t.Helper()
	path := fmt.Sprintf("%s/search_test_%d.db", t.TempDir(), time.Now().UnixNano())
	store, err := vstore.Open(context.Background(), vstore.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		os.Remove(path)
	})
	return store
}

func mustRow(id string, vec []float32, md model.Metadata) model.Row {
	return model.Row{ID: id, Document: "doc-" + id, Metadata: md, Vector: vec}
}

func TestSearchCosineOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 2, "test")
	require.NoError(t, err)

	rows := []model.Row{
		mustRow("m1", []float32{1, 0}, model.Metadata{"contact": model.StringValue("a")}),
		mustRow("m2", []float32{0, 1}, model.Metadata{"contact": model.StringValue("a")}),
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	// The local-hash embedder's dimension doesn't match the 2-dim
	// collection under test, so this exercises vstore.Query's scoring
	// directly rather than going through Engine.Search's query encoding.
	matches, err := store.Query(ctx, "messages_t", []float32{1, 0}, 2, nil, vstore.ModeKNN)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "m1", matches[0].Row.ID)

	score0 := clampScore(1 - float64(matches[0].Distance))
	score1 := clampScore(1 - float64(matches[1].Distance))
	require.Equal(t, 1.0, score0)
	require.InDelta(t, 0.5, score1, 0.01)
}

func TestSearchExcludeNoise(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 384, "local-hash-384")
	require.NoError(t, err)

	h, err := embedder.Load("local-hash-384", "")
	require.NoError(t, err)

	var rows []model.Row
	for i := 0; i < 10; i++ {
		text := fmt.Sprintf("message body %d", i)
		vecs, err := embedder.Encode(ctx, h, []string{text}, 1)
		require.NoError(t, err)
		isNoise := i < 4
		rows = append(rows, mustRow(fmt.Sprintf("m%d", i), vecs[0], model.Metadata{
			"is_noise": model.BoolValue(isNoise),
			"contact":  model.StringValue("a"),
		}))
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	eng := New(h, store)
	results, err := eng.Search(ctx, Request{
		Collection: "messages_t",
		QueryText:  "message body 5",
		K:          20,
		Mode:       vstore.ModeKNN,
		Filter:     filter.Request{ExcludeNoise: true},
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 6)
	for _, r := range results {
		if noise, ok := r.Metadata["is_noise"].Bool(); ok {
			require.False(t, noise, "result %q is flagged noise but exclude_noise was set", r.ID)
		}
	}
}

func TestSearchTemporalFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 384, "local-hash-384")
	require.NoError(t, err)

	h, err := embedder.Load("local-hash-384", "")
	require.NoError(t, err)

	months := []time.Month{time.January, time.February, time.March, time.April, time.May}
	var rows []model.Row
	for i, m := range months {
		ts := time.Date(2024, m, 1, 0, 0, 0, 0, time.UTC)
		text := fmt.Sprintf("status update %d", i)
		vecs, err := embedder.Encode(ctx, h, []string{text}, 1)
		require.NoError(t, err)
		rows = append(rows, mustRow(fmt.Sprintf("m%d", i), vecs[0], model.Metadata{
			"contact":   model.StringValue("a"),
			"timestamp": model.NumberValue(float64(ts.Unix())),
		}))
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC).Unix()

	eng := New(h, store)
	results, err := eng.Search(ctx, Request{
		Collection: "messages_t",
		QueryText:  "status update",
		K:          10,
		Mode:       vstore.ModeKNN,
		Filter:     filter.Request{TimestampStart: &start, TimestampEnd: &end},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		ts, ok := r.Metadata["timestamp"].Number()
		require.True(t, ok)
		require.GreaterOrEqual(t, int64(ts), start)
		require.LessOrEqual(t, int64(ts), end)
	}
}

func TestSearchGeographicRadius(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 384, "local-hash-384")
	require.NoError(t, err)

	h, err := embedder.Load("local-hash-384", "")
	require.NoError(t, err)

	// Reference point on the equator; one degree of latitude is ~111.2 km.
	offsets := map[string]float64{
		"near":    1.0 / 111.19,  // ~1 km away
		"close":   5.0 / 111.19,  // ~5 km away
		"distant": 50.0 / 111.19, // ~50 km away
	}
	var rows []model.Row
	for id, dLat := range offsets {
		text := "meeting spot " + id
		vecs, err := embedder.Encode(ctx, h, []string{text}, 1)
		require.NoError(t, err)
		rows = append(rows, mustRow(id, vecs[0], model.Metadata{
			"contact": model.StringValue("a"),
			"gps_lat": model.NumberValue(dLat),
			"gps_lon": model.NumberValue(0),
		}))
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	lat, lon := 0.0, 0.0
	eng := New(h, store)
	results, err := eng.Search(ctx, Request{
		Collection: "messages_t",
		QueryText:  "meeting spot",
		K:          10,
		Mode:       vstore.ModeKNN,
		Filter:     filter.Request{GPSLat: &lat, GPSLon: &lon, RadiusKM: 10},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotEqual(t, "distant", r.ID)
	}
}

// fixedModel always returns the same 2-dim vector, so tests can control
// query geometry exactly.
type fixedModel struct{ vec []float32 }

func (m fixedModel) Dim() int { return len(m.vec) }
func (m fixedModel) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	return out, nil
}

func init() {
	embedder.Register("fixed-2d", func(string) (embedder.Model, error) {
		return fixedModel{vec: []float32{1, 0}}, nil
	})
}

func TestSearchDistanceCeilingDropsFarRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 2, "fixed-2d")
	require.NoError(t, err)

	rows := []model.Row{
		mustRow("m1", []float32{1, 0}, nil),
		mustRow("m2", []float32{0, 1}, nil),
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	h, err := embedder.Load("fixed-2d", "")
	require.NoError(t, err)
	eng := New(h, store)

	// The orthogonal row sits at distance 0.5; a 0.25 ceiling keeps only
	// the exact match.
	ceiling := 0.25
	results, err := eng.Search(ctx, Request{
		Collection:      "messages_t",
		QueryText:       "anything",
		K:               10,
		Mode:            vstore.ModeKNN,
		DistanceCeiling: &ceiling,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].ID)
	require.Equal(t, 1.0, results[0].Score)
}

func TestMultiCollectionSearchMergesByScore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	h, err := embedder.Load("local-hash-384", "")
	require.NoError(t, err)

	for _, coll := range []string{"messages_t", "chunks_t"} {
		kind := vstore.KindMessages
		if coll == "chunks_t" {
			kind = vstore.KindChunks
		}
		_, err := store.CreateCollection(ctx, coll, kind, 384, "local-hash-384")
		require.NoError(t, err)

		var rows []model.Row
		for i := 0; i < 3; i++ {
			text := fmt.Sprintf("%s document %d", coll, i)
			vecs, err := embedder.Encode(ctx, h, []string{text}, 1)
			require.NoError(t, err)
			rows = append(rows, mustRow(fmt.Sprintf("%s-m%d", coll, i), vecs[0], nil))
		}
		require.NoError(t, store.Upsert(ctx, coll, rows, vstore.UpsertOptions{}))
	}

	eng := New(h, store)
	results, err := eng.MultiCollectionSearch(ctx, []string{"messages_t", "chunks_t"}, Request{
		QueryText: "document",
		K:         4,
		Mode:      vstore.ModeKNN,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestReconstructConversationOrdersByTimestampThenID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateCollection(ctx, "messages_t", vstore.KindMessages, 2, "test")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	var rows []model.Row
	for i := 0; i < 5; i++ {
		rows = append(rows, mustRow(fmt.Sprintf("m%d", i), []float32{float32(i), 0}, model.Metadata{
			"contact":   model.StringValue("a"),
			"timestamp": model.NumberValue(float64(base + int64(i*60))),
		}))
	}
	require.NoError(t, store.Upsert(ctx, "messages_t", rows, vstore.UpsertOptions{}))

	h, err := embedder.Load("local-hash-384", "")
	require.NoError(t, err)
	eng := New(h, store)

	entries, err := eng.ReconstructConversation(ctx, "messages_t", "m2", 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	wantIDs := []string{"m1", "m2", "m3"}
	for i, e := range entries {
		require.Equal(t, wantIDs[i], e.Row.ID)
	}
	require.True(t, entries[1].IsTarget)
}
