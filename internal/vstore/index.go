package vstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/forensics/semsearch/internal/annindex"
	"github.com/forensics/semsearch/internal/encoding"
	"github.com/forensics/semsearch/internal/errs"
)

// rebuildAllIndexes loads or rebuilds the in-memory HNSW index for every
// collection at startup.
func (s *Store) rebuildAllIndexes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM collections")
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "rebuild_indexes", err)
	}
	var names []struct {
		id   int64
		name string
	}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return errs.New(errs.KindInvalidArgument, "rebuild_indexes", err)
		}
		names = append(names, struct {
			id   int64
			name string
		}{id, name})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errs.New(errs.KindInvalidArgument, "rebuild_indexes", err)
	}

	for _, c := range names {
		idx, err := s.loadOrRebuildIndex(ctx, c.id, c.name)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.hnsw[c.name] = idx
		s.mu.Unlock()
	}
	return nil
}

// loadOrRebuildIndex tries the persisted snapshot first and falls back to a
// full rebuild from the collection's raw vectors if the snapshot is missing
// or fails to decode.
func (s *Store) loadOrRebuildIndex(ctx context.Context, collID int64, name string) (*annindex.HNSW, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM index_snapshots WHERE collection_id = ?", collID).Scan(&data)
	switch {
	case err == nil:
		idx := annindex.New(s.config.HNSW.M, s.config.HNSW.EfConstruction, annindex.CosineDistance)
		if loadErr := idx.Load(bytes.NewReader(data)); loadErr == nil {
			return idx, nil
		}
		s.logger.Warn("index snapshot corrupt, rebuilding from raw vectors", "collection", name)
	case err != sql.ErrNoRows:
		return nil, errs.New(errs.KindCorruptIndex, "load_index", err)
	}
	return s.rebuildIndexFromRows(ctx, collID, name)
}

func (s *Store) rebuildIndexFromRows(ctx context.Context, collID int64, name string) (*annindex.HNSW, error) {
	idx := annindex.New(s.config.HNSW.M, s.config.HNSW.EfConstruction, annindex.CosineDistance)

	rows, err := s.db.QueryContext(ctx, "SELECT id, vector FROM rows WHERE collection_id = ?", collID)
	if err != nil {
		return nil, errs.New(errs.KindCorruptIndex, "rebuild_index", fmt.Errorf("collection %q: %w", name, err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, errs.New(errs.KindCorruptIndex, "rebuild_index", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			return nil, errs.New(errs.KindCorruptIndex, "rebuild_index", fmt.Errorf("row %q: %w", id, err))
		}
		if err := idx.Insert(id, vec); err != nil {
			return nil, errs.New(errs.KindCorruptIndex, "rebuild_index", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindCorruptIndex, "rebuild_index", err)
	}
	return idx, nil
}

// saveIndexSnapshot gob-persists a collection's HNSW index so the next Open
// can skip the rebuild-from-rows pass.
func (s *Store) saveIndexSnapshot(ctx context.Context, collID int64, idx *annindex.HNSW) error {
	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		return errs.New(errs.KindCorruptIndex, "save_index", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_snapshots (collection_id, data) VALUES (?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET data = excluded.data, created_at = CURRENT_TIMESTAMP
	`, collID, buf.Bytes())
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "save_index", err)
	}
	return nil
}

// indexFor returns the in-memory HNSW index for a collection, creating an
// empty one if none exists yet.
func (s *Store) indexFor(name string) *annindex.HNSW {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.hnsw[name]
	if !ok {
		idx = annindex.New(s.config.HNSW.M, s.config.HNSW.EfConstruction, annindex.CosineDistance)
		s.hnsw[name] = idx
	}
	return idx
}
