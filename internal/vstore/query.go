package vstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/forensics/semsearch/internal/annindex"
	"github.com/forensics/semsearch/internal/encoding"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/model"
)

// Order selects the sort applied to Scan results when no distance is
// involved.
type Order string

const (
	OrderNone   Order = ""
	OrderAscID  Order = "id_asc"
	OrderDescID Order = "id_desc"
)

// Scan returns rows matching a metadata predicate, with no vector
// comparison.
func (s *Store) Scan(ctx context.Context, name string, predicate *Predicate, limit int, order Order) ([]model.Row, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, document, metadata, vector FROM rows WHERE collection_id = ?"
	args := []any{cr.id}
	if predicate != nil {
		clause, params := buildSQL(predicate)
		if clause != "" {
			query += " AND (" + clause + ")"
			args = append(args, params...)
		}
	}
	switch order {
	case OrderAscID:
		query += " ORDER BY id ASC"
	case OrderDescID:
		query += " ORDER BY id DESC"
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.KindInvalidPredicate, "scan", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var r model.Row
		var mdBytes, vecBytes []byte
		if err := rows.Scan(&r.ID, &r.Document, &mdBytes, &vecBytes); err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "scan", err)
		}
		md, err := decodeMetadata(mdBytes)
		if err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "scan", err)
		}
		vec, err := encoding.DecodeVector(vecBytes)
		if err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "scan", err)
		}
		r.Metadata, r.Vector = md, vec
		out = append(out, r)
	}
	return out, rows.Err()
}

// Match pairs a row with its distance to the query vector in a Query result.
type Match struct {
	Row      model.Row
	Distance float32
}

// Query performs a nearest-neighbor search over a collection, either via the
// HNSW index (ModeANN) or an exhaustive linear scan (ModeKNN), applying the
// metadata predicate as a filter either way.
func (s *Store) Query(ctx context.Context, name string, queryVec []float32, k int, predicate *Predicate, mode Mode) ([]Match, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(queryVec) != cr.info.EmbeddingDim {
		return nil, errs.Newf(errs.KindDimensionMismatch, "query",
			"query vector has dimension %d, collection %q expects %d", len(queryVec), name, cr.info.EmbeddingDim)
	}

	if mode == ModeKNN {
		return s.queryExact(ctx, cr, queryVec, k, predicate)
	}
	return s.queryANN(ctx, cr, name, queryVec, k, predicate)
}

func (s *Store) queryExact(ctx context.Context, cr *collectionRow, queryVec []float32, k int, predicate *Predicate) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, document, metadata, vector FROM rows WHERE collection_id = ?", cr.id)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "query_knn", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var r model.Row
		var mdBytes, vecBytes []byte
		if err := rows.Scan(&r.ID, &r.Document, &mdBytes, &vecBytes); err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "query_knn", err)
		}
		md, err := decodeMetadata(mdBytes)
		if err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "query_knn", err)
		}
		if predicate != nil && !Evaluate(predicate, md) {
			continue
		}
		vec, err := encoding.DecodeVector(vecBytes)
		if err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "query_knn", err)
		}
		r.Metadata, r.Vector = md, vec
		matches = append(matches, Match{Row: r, Distance: annindex.CosineDistance(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "query_knn", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Row.ID < matches[j].Row.ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) queryANN(ctx context.Context, cr *collectionRow, name string, queryVec []float32, k int, predicate *Predicate) ([]Match, error) {
	idx := s.indexFor(name)
	ef := s.config.HNSW.EfSearch
	if ef < k {
		ef = k * 4
	}
	// Over-retrieve when a predicate must filter candidates post-hoc, since
	// the HNSW graph has no notion of metadata.
	fetchK := k
	if predicate != nil {
		fetchK = k * 4
		if fetchK < k+20 {
			fetchK = k + 20
		}
		if fetchK > ef {
			ef = fetchK
		}
	}

	ids, dists := idx.Search(queryVec, fetchK, ef)

	var matches []Match
	for i, id := range ids {
		row, err := s.getByIDLocked(ctx, name, id)
		if err != nil {
			continue
		}
		if predicate != nil && !Evaluate(predicate, row.Metadata) {
			continue
		}
		matches = append(matches, Match{Row: *row, Distance: dists[i]})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}
