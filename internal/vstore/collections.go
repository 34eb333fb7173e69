package vstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forensics/semsearch/internal/annindex"
	"github.com/forensics/semsearch/internal/errs"
)

// collectionRow is the internal identity of a collection, resolved once per
// call and reused across the CRUD helpers in this file.
type collectionRow struct {
	id   int64
	info CollectionInfo
}

func (s *Store) lookupCollection(ctx context.Context, name string) (*collectionRow, error) {
	var cr collectionRow
	var kind, distance string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, embedding_dim, embedding_model_id, distance, created_at
		FROM collections WHERE name = ?
	`, name).Scan(&cr.id, &cr.info.Name, &kind, &cr.info.EmbeddingDim, &cr.info.EmbeddingModelID, &distance, &cr.info.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindCollectionNotFound, "vstore", fmt.Errorf("collection %q not found", name))
	}
	if err != nil {
		return nil, errs.New(errs.KindCollectionNotFound, "vstore", err)
	}
	cr.info.Kind = Kind(kind)
	cr.info.Distance = distance
	return &cr, nil
}

// CreateCollection is idempotent on identical parameters and fails with
// DimensionMismatch if the existing collection's dimension differs.
func (s *Store) CreateCollection(ctx context.Context, name string, kind Kind, embeddingDim int, modelID string) (*CollectionInfo, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.lookupCollection(ctx, name)
	if err == nil {
		if existing.info.EmbeddingDim != embeddingDim {
			return nil, errs.Newf(errs.KindDimensionMismatch, "create_collection",
				"collection %q already exists with dimension %d, requested %d", name, existing.info.EmbeddingDim, embeddingDim)
		}
		return &existing.info, nil
	}
	if !errs.Is(err, errs.KindCollectionNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, kind, embedding_dim, embedding_model_id, distance)
		VALUES (?, ?, ?, ?, 'cosine')
	`, name, string(kind), embeddingDim, modelID); err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "create_collection", err)
	}

	s.mu.Lock()
	s.hnsw[name] = annindex.New(s.config.HNSW.M, s.config.HNSW.EfConstruction, annindex.CosineDistance)
	s.mu.Unlock()

	return &CollectionInfo{
		Name: name, Kind: kind, EmbeddingDim: embeddingDim, EmbeddingModelID: modelID,
		Distance: "cosine",
	}, nil
}

// DeleteCollection atomically removes a collection and all its rows/vectors.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "delete_collection", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rows WHERE collection_id = ?", cr.id); err != nil {
		return errs.New(errs.KindInvalidArgument, "delete_collection", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM index_snapshots WHERE collection_id = ?", cr.id); err != nil {
		return errs.New(errs.KindInvalidArgument, "delete_collection", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", cr.id); err != nil {
		return errs.New(errs.KindInvalidArgument, "delete_collection", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindInvalidArgument, "delete_collection", err)
	}

	s.mu.Lock()
	delete(s.hnsw, name)
	delete(s.collLocks, name)
	s.mu.Unlock()

	return nil
}

// ListCollections returns all collections, most recently created first.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.kind, c.embedding_dim, c.embedding_model_id, c.distance, c.created_at,
		       (SELECT COUNT(*) FROM rows r WHERE r.collection_id = c.id)
		FROM collections c ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "list_collections", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var ci CollectionInfo
		var kind, distance string
		if err := rows.Scan(&ci.Name, &kind, &ci.EmbeddingDim, &ci.EmbeddingModelID, &distance, &ci.CreatedAt, &ci.RecordCount); err != nil {
			return nil, errs.New(errs.KindInvalidArgument, "list_collections", err)
		}
		ci.Kind = Kind(kind)
		ci.Distance = distance
		out = append(out, ci)
	}
	return out, rows.Err()
}

// GetCollection returns a single collection's info, including row count.
func (s *Store) GetCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := s.Count(ctx, name)
	if err != nil {
		return nil, err
	}
	cr.info.RecordCount = count
	return &cr.info, nil
}

// CollectionKind returns just the kind of a collection, without counting
// its rows.
func (s *Store) CollectionKind(ctx context.Context, name string) (Kind, error) {
	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return "", err
	}
	return cr.info.Kind, nil
}

// CollectionStats summarizes a collection's stored volume.
type CollectionStats struct {
	RecordCount int64
	TotalBytes  int64
	LastWriteAt sql.NullTime
}

// Stats returns per-collection size statistics: row count, approximate
// stored bytes (documents, metadata, and vectors), and the most recent
// write time.
func (s *Store) Stats(ctx context.Context, name string) (*CollectionStats, error) {
	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	var st CollectionStats
	// MAX() drops the column's DATETIME type, so the driver hands back text.
	var lastWrite sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(LENGTH(document) + LENGTH(metadata) + LENGTH(vector)), 0),
		       MAX(created_at)
		FROM rows WHERE collection_id = ?
	`, cr.id).Scan(&st.RecordCount, &st.TotalBytes, &lastWrite)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "stats", err)
	}
	if lastWrite.Valid {
		t, perr := time.Parse("2006-01-02 15:04:05", lastWrite.String)
		if perr != nil {
			t, perr = time.Parse(time.RFC3339Nano, lastWrite.String)
		}
		if perr != nil {
			return nil, errs.New(errs.KindInvalidArgument, "stats", perr)
		}
		st.LastWriteAt = sql.NullTime{Time: t, Valid: true}
	}
	return &st, nil
}

// Count returns the number of rows in a collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rows WHERE collection_id = ?", cr.id).Scan(&n)
	if err != nil {
		return 0, errs.New(errs.KindInvalidArgument, "count", err)
	}
	return n, nil
}
