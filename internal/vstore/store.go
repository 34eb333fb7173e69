// Package vstore implements the Vector Store: SQLite-backed typed
// collections of (id, document, metadata, vector) rows, each with a
// lazily-built HNSW index.
package vstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/forensics/semsearch/internal/annindex"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/logging"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Kind identifies the logical shape of a collection's rows.
type Kind string

const (
	KindMessages Kind = "messages"
	KindChunks   Kind = "chunks"
	KindImages   Kind = "images"
)

// Mode selects how Query resolves candidates.
type Mode string

const (
	ModeANN Mode = "ANN"
	ModeKNN Mode = "KNN"
)

// HNSWConfig tunes the per-collection ANN index.
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultHNSWConfig returns the index tuning used when none is supplied.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 50}
}

// Config configures a Store.
type Config struct {
	Path   string
	HNSW   HNSWConfig
	Logger logging.Logger
}

// CollectionInfo describes a collection's identity and size.
type CollectionInfo struct {
	Name             string
	Kind             Kind
	EmbeddingDim     int
	EmbeddingModelID string
	Distance         string
	CreatedAt        time.Time
	RecordCount      int64
}

// Store is the SQLite-backed implementation of the Vector Store contract.
type Store struct {
	db     *sql.DB
	config Config
	logger logging.Logger

	mu        sync.Mutex                // guards collLocks and hnsw map membership
	collLocks map[string]*sync.RWMutex  // one lock per collection
	hnsw      map[string]*annindex.HNSW
	closed    bool
}

// Open creates and initializes a Store backed by a SQLite database file at
// path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errs.New(errs.KindInvalidArgument, "vstore.Open", fmt.Errorf("path cannot be empty"))
	}
	if cfg.HNSW == (HNSWConfig{}) {
		cfg.HNSW = DefaultHNSWConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-2000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "vstore.Open", fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	s := &Store{
		db:        db,
		config:    cfg,
		logger:    cfg.Logger,
		collLocks: make(map[string]*sync.RWMutex),
		hnsw:      make(map[string]*annindex.HNSW),
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.rebuildAllIndexes(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		kind TEXT NOT NULL,
		embedding_dim INTEGER NOT NULL,
		embedding_model_id TEXT NOT NULL,
		distance TEXT NOT NULL DEFAULT 'cosine',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rows (
		collection_id INTEGER NOT NULL,
		id TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		vector BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection_id, id),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rows_collection ON rows(collection_id);

	CREATE TABLE IF NOT EXISTS index_snapshots (
		collection_id INTEGER PRIMARY KEY,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return errs.New(errs.KindInvalidArgument, "vstore.createSchema", fmt.Errorf("enable foreign keys: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.New(errs.KindInvalidArgument, "vstore.createSchema", fmt.Errorf("create tables: %w", err))
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// lockFor returns the per-collection lock, creating it on first use.
func (s *Store) lockFor(name string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.collLocks[name]
	if !ok {
		l = &sync.RWMutex{}
		s.collLocks[name] = l
	}
	return l
}
