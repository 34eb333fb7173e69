// Package semsearch wires the forensic semantic search engine's components
// into a single long-lived value: an embedder handle, a vector store, and a
// task registry, with the Indexer and Search Engine built over them. There
// are no package-level singletons; everything hangs off the Engine.
package semsearch

import (
	"context"
	"errors"

	"github.com/forensics/semsearch/internal/chunk"
	"github.com/forensics/semsearch/internal/embedder"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/indexer"
	"github.com/forensics/semsearch/internal/logging"
	"github.com/forensics/semsearch/internal/noise"
	"github.com/forensics/semsearch/internal/search"
	"github.com/forensics/semsearch/internal/task"
	"github.com/forensics/semsearch/internal/vstore"
)

var errModelIDRequired = errors.New("semsearch: Config.ModelID is required")

// Config centralizes every engine tunable: embedding model
// id, device hint, chunking window/overlap, default retrieval mode,
// default k, default exclude-noise, distance ceiling, storage root, and the
// noise rules file. Runtime changes to a Config only affect operations
// issued against a newly Open'd Engine; a collection created under one
// model keeps that model permanently.
type Config struct {
	StoragePath string
	ModelID     string
	DeviceHint  string

	HNSW  vstore.HNSWConfig
	Chunk chunk.Config

	EncodeBatchSize int
	StoreBatchSize  int

	// NoiseRulesPath, when non-empty, overrides noise.DefaultRuleSet().
	NoiseRulesPath string

	DefaultK            int
	DefaultMode         vstore.Mode
	DefaultExcludeNoise bool
	DistanceCeiling     *float64

	Logger logging.Logger
}

// Engine is the top-level handle a caller holds: an embedder handle, a
// vector store, a task registry, and the Indexer/Search components built
// over them.
type Engine struct {
	Config Config

	Store    *vstore.Store
	Embedder *embedder.Handle
	Tasks    *task.Registry
	Indexer  *indexer.Indexer
	Search   *search.Engine

	defaultNoiseRules *noise.RuleSet
}

// Open loads the embedding model, opens the Vector Store at
// cfg.StoragePath, and constructs the Task Registry, Indexer, and Search
// Engine over them.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ModelID == "" {
		return nil, errs.New(errs.KindInvalidArgument, "semsearch.Open", errModelIDRequired)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = vstore.ModeANN
	}

	h, err := embedder.Load(cfg.ModelID, cfg.DeviceHint)
	if err != nil {
		return nil, err
	}

	store, err := vstore.Open(ctx, vstore.Config{
		Path:   cfg.StoragePath,
		HNSW:   cfg.HNSW,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	var rules *noise.RuleSet
	if cfg.NoiseRulesPath != "" {
		rules, err = noise.LoadRuleSet(cfg.NoiseRulesPath)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	tasks := task.New()
	idx := indexer.New(store, tasks, cfg.Logger)
	eng := search.New(h, store)

	e := &Engine{
		Config:            cfg,
		Store:             store,
		Embedder:          h,
		Tasks:             tasks,
		Indexer:           idx,
		Search:            eng,
		defaultNoiseRules: rules,
	}
	return e, nil
}

// IndexSource launches an ingestion job with Engine-level defaults applied
// to any zero-valued Request fields, returning the task id immediately.
func (e *Engine) IndexSource(ctx context.Context, req indexer.Request) string {
	if req.ModelID == "" {
		req.ModelID = e.Config.ModelID
	}
	if req.DeviceHint == "" {
		req.DeviceHint = e.Config.DeviceHint
	}
	if req.Chunk == (chunk.Config{}) {
		req.Chunk = e.Config.Chunk
	}
	if req.EncodeBatchSize == 0 {
		req.EncodeBatchSize = e.Config.EncodeBatchSize
	}
	if req.StoreBatchSize == 0 {
		req.StoreBatchSize = e.Config.StoreBatchSize
	}
	if req.NoiseRules == nil {
		req.NoiseRules = e.defaultNoiseRules
	}
	return e.Indexer.Launch(ctx, req)
}

// Query runs a search with Engine-level defaults applied to any
// zero-valued Request fields.
func (e *Engine) Query(ctx context.Context, req search.Request) ([]search.Result, error) {
	if req.K == 0 {
		req.K = e.Config.DefaultK
	}
	if req.Mode == "" {
		req.Mode = e.Config.DefaultMode
	}
	if e.Config.DefaultExcludeNoise {
		req.Filter.ExcludeNoise = true
	}
	if req.DistanceCeiling == nil {
		req.DistanceCeiling = e.Config.DistanceCeiling
	}
	return e.Search.Search(ctx, req)
}

// Close releases the Vector Store's underlying database handle.
func (e *Engine) Close() error {
	return e.Store.Close()
}
