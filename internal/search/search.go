// Package search implements the query engine and conversation
// reconstruction: it turns a free-text query plus structured predicates
// into a ranked, contextualized result set.
package search

import (
	"context"
	"sort"
	"sync"

	"github.com/forensics/semsearch/internal/embedder"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/filter"
	"github.com/forensics/semsearch/internal/geo"
	"github.com/forensics/semsearch/internal/model"
	"github.com/forensics/semsearch/internal/vstore"
)

// Request is one query against a single collection.
type Request struct {
	Collection      string
	QueryText       string
	K               int
	Filter          filter.Request
	Mode            vstore.Mode
	DistanceCeiling *float64
}

// Result is one ranked row in a response.
type Result struct {
	ID         string
	Score      float64
	Distance   float32
	Document   string
	Metadata   model.Metadata
	Collection string
}

// Engine is the Search Engine: an embedder handle plus a Vector Store,
// with no other mutable state.
type Engine struct {
	Embedder *embedder.Handle
	Store    *vstore.Store

	// BatchSize bounds the embedder's internal batching for the
	// single-text query encode call; kept for configuration symmetry with
	// the Indexer.
	BatchSize int

	cacheMu   sync.Mutex
	cacheText string
	cacheVec  []float32
}

// New builds a Search Engine over an already-loaded embedder handle and an
// open Vector Store.
func New(h *embedder.Handle, store *vstore.Store) *Engine {
	return &Engine{Embedder: h, Store: store, BatchSize: 1}
}

// Search encodes the query, compiles predicates, resolves ANN or exact KNN
// retrieval, applies the geographic post-filter, converts distance to
// score, applies the optional distance ceiling, and returns the top K rows.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.K < 1 {
		req.K = 10
	}
	if req.Mode == "" {
		req.Mode = vstore.ModeANN
	}

	qvec, err := e.encodeQuery(ctx, req.QueryText)
	if err != nil {
		return nil, err
	}

	// Chunk collections carry their time range as two endpoint attributes,
	// so the compiler needs to know the collection's kind.
	if req.Filter.Type == "" {
		if kind, err := e.Store.CollectionKind(ctx, req.Collection); err == nil {
			req.Filter.Type = string(kind)
		}
	}

	compiled, err := filter.Compile(req.Filter)
	if err != nil {
		return nil, err
	}

	fetchK := req.K
	if compiled.GeoBox != nil {
		fetchK = req.K * 2
		if fetchK < req.K+20 {
			fetchK = req.K + 20
		}
	}

	matches, err := e.Store.Query(ctx, req.Collection, qvec, fetchK, compiled.Predicate, req.Mode)
	if err != nil {
		return nil, err
	}

	if compiled.GeoBox != nil {
		matches = applyGeoPostFilter(matches, compiled.Center, compiled.RadiusKM)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		score := clampScore(1 - float64(m.Distance))
		if req.DistanceCeiling != nil && float64(m.Distance) > *req.DistanceCeiling {
			continue
		}
		results = append(results, Result{
			ID:         m.Row.ID,
			Score:      score,
			Distance:   m.Distance,
			Document:   m.Row.Document,
			Metadata:   m.Row.Metadata,
			Collection: req.Collection,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > req.K {
		results = results[:req.K]
	}
	return results, nil
}

// MultiCollectionSearch runs Search once per collection and merges the
// results by descending score, then ascending (collection, id) for ties.
func (e *Engine) MultiCollectionSearch(ctx context.Context, collections []string, req Request) ([]Result, error) {
	var merged []Result
	for _, coll := range collections {
		perColl := req
		perColl.Collection = coll
		rs, err := e.Search(ctx, perColl)
		if err != nil {
			return nil, err
		}
		merged = append(merged, rs...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Collection != merged[j].Collection {
			return merged[i].Collection < merged[j].Collection
		}
		return merged[i].ID < merged[j].ID
	})

	if req.K > 0 && len(merged) > req.K {
		merged = merged[:req.K]
	}
	return merged, nil
}

func (e *Engine) encodeQuery(ctx context.Context, text string) ([]float32, error) {
	e.cacheMu.Lock()
	if text == e.cacheText && e.cacheVec != nil {
		vec := e.cacheVec
		e.cacheMu.Unlock()
		return vec, nil
	}
	e.cacheMu.Unlock()

	vecs, err := embedder.Encode(ctx, e.Embedder, []string{text}, e.batchSize())
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errs.Newf(errs.KindEncodeFailed, "search.encodeQuery", "expected 1 vector, got %d", len(vecs))
	}

	e.cacheMu.Lock()
	e.cacheText, e.cacheVec = text, vecs[0]
	e.cacheMu.Unlock()

	return vecs[0], nil
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return 1
	}
	return e.BatchSize
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// applyGeoPostFilter discards candidates whose exact haversine distance from
// center exceeds radiusKM; the bounding-box pre-filter already applied at
// the store layer only narrows candidates coarsely.
func applyGeoPostFilter(matches []vstore.Match, center geo.Coordinate, radiusKM float64) []vstore.Match {
	out := make([]vstore.Match, 0, len(matches))
	for _, m := range matches {
		lat, ok1 := latOf(m.Row.Metadata)
		lon, ok2 := lonOf(m.Row.Metadata)
		if !ok1 || !ok2 {
			continue
		}
		d := geo.HaversineKM(center, geo.Coordinate{Lat: lat, Lon: lon})
		if d <= radiusKM {
			out = append(out, m)
		}
	}
	return out
}

func latOf(md model.Metadata) (float64, bool) {
	v, ok := md["gps_lat"]
	if !ok {
		return 0, false
	}
	return v.Number()
}

func lonOf(md model.Metadata) (float64, bool) {
	v, ok := md["gps_lon"]
	if !ok {
		return 0, false
	}
	return v.Number()
}
