package vstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/forensics/semsearch/internal/annindex"
	"github.com/forensics/semsearch/internal/encoding"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/model"
)

func encodeMetadata(md model.Metadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	raw := make(map[string]any, len(md))
	for k, v := range md {
		raw[k] = v.Raw()
	}
	return json.Marshal(raw)
}

func decodeMetadata(data []byte) (model.Metadata, error) {
	var raw map[string]any
	if len(data) == 0 {
		return model.Metadata{}, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	md := make(model.Metadata, len(raw))
	for k, v := range raw {
		md[k] = model.FromRaw(v)
	}
	return md, nil
}

// UpsertOptions controls how a batch is written.
type UpsertOptions struct {
	// Reset, when true, deletes all existing rows in the collection before
	// writing this batch and takes an exclusive lock for the whole
	// operation, blocking concurrent queries on the same collection.
	Reset bool
}

// Upsert writes a batch of rows to a collection, last-writer-wins on
// duplicate ids, and incrementally updates the collection's HNSW index.
func (s *Store) Upsert(ctx context.Context, name string, batch []model.Row, opts UpsertOptions) error {
	if len(batch) == 0 && !opts.Reset {
		return nil
	}
	lock := s.lockFor(name)
	if opts.Reset {
		lock.Lock()
		defer lock.Unlock()
	} else {
		lock.RLock()
		defer lock.RUnlock()
	}

	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return err
	}

	for _, r := range batch {
		if len(r.Vector) != cr.info.EmbeddingDim {
			return errs.Newf(errs.KindDimensionMismatch, "upsert",
				"row %q has dimension %d, collection %q expects %d", r.ID, len(r.Vector), name, cr.info.EmbeddingDim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "upsert", err)
	}
	defer tx.Rollback()

	if opts.Reset {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rows WHERE collection_id = ?", cr.id); err != nil {
			return errs.New(errs.KindInvalidArgument, "upsert", err)
		}
		s.mu.Lock()
		s.hnsw[name] = annindex.New(s.config.HNSW.M, s.config.HNSW.EfConstruction, annindex.CosineDistance)
		s.mu.Unlock()
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rows (collection_id, id, document, metadata, vector)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, id) DO UPDATE SET
			document = excluded.document, metadata = excluded.metadata, vector = excluded.vector
	`)
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "upsert", err)
	}
	defer stmt.Close()

	idx := s.indexFor(name)
	for _, r := range batch {
		mdBytes, err := encodeMetadata(r.Metadata)
		if err != nil {
			return errs.New(errs.KindInvalidArgument, "upsert", fmt.Errorf("row %q: %w", r.ID, err))
		}
		vecBytes, err := encoding.EncodeVector(r.Vector)
		if err != nil {
			return errs.New(errs.KindInvalidArgument, "upsert", fmt.Errorf("row %q: %w", r.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, cr.id, r.ID, r.Document, mdBytes, vecBytes); err != nil {
			return errs.New(errs.KindInvalidArgument, "upsert", fmt.Errorf("row %q: %w", r.ID, err))
		}
		if err := idx.Insert(r.ID, r.Vector); err != nil {
			return errs.New(errs.KindInvalidArgument, "upsert", fmt.Errorf("row %q: %w", r.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindInvalidArgument, "upsert", err)
	}
	return s.saveIndexSnapshot(ctx, cr.id, idx)
}

// GetByID fetches a single row by id.
func (s *Store) GetByID(ctx context.Context, name, id string) (*model.Row, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()
	return s.getByIDLocked(ctx, name, id)
}

// getByIDLocked is GetByID's body without acquiring the collection lock,
// for callers (e.g. queryANN) that already hold it: sync.RWMutex.RLock is
// not safe to call twice from the same goroutine, since a Lock() call
// queued in between would block the second RLock forever.
func (s *Store) getByIDLocked(ctx context.Context, name, id string) (*model.Row, error) {
	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	var doc string
	var mdBytes, vecBytes []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT document, metadata, vector FROM rows WHERE collection_id = ? AND id = ?
	`, cr.id, id).Scan(&doc, &mdBytes, &vecBytes)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "get_by_id", "row %q not found in collection %q", id, name)
	}
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "get_by_id", err)
	}

	md, err := decodeMetadata(mdBytes)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "get_by_id", err)
	}
	vec, err := encoding.DecodeVector(vecBytes)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "get_by_id", err)
	}
	return &model.Row{ID: id, Document: doc, Metadata: md, Vector: vec}, nil
}

// Delete removes a single row and its vector from the index.
func (s *Store) Delete(ctx context.Context, name, id string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	cr, err := s.lookupCollection(ctx, name)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM rows WHERE collection_id = ? AND id = ?", cr.id, id)
	if err != nil {
		return errs.New(errs.KindInvalidArgument, "delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "delete", "row %q not found in collection %q", id, name)
	}

	idx := s.indexFor(name)
	if err := idx.Delete(id); err != nil && err != annindex.ErrNotFound {
		return errs.New(errs.KindInvalidArgument, "delete", err)
	}
	return s.saveIndexSnapshot(ctx, cr.id, idx)
}
