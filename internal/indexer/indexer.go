// Package indexer implements the ingestion pipeline: it orchestrates
// normalize -> denoise -> chunk -> encode -> store as a staged pipeline
// emitting progress events through the Task Registry.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forensics/semsearch/internal/chunk"
	"github.com/forensics/semsearch/internal/embedder"
	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/logging"
	"github.com/forensics/semsearch/internal/model"
	"github.com/forensics/semsearch/internal/noise"
	"github.com/forensics/semsearch/internal/normalize"
	"github.com/forensics/semsearch/internal/task"
	"github.com/forensics/semsearch/internal/vstore"
)

// Progress anchors at stage boundaries.
const (
	pctParsingStart   = 0
	pctParsingEnd     = 25
	pctDenoisingEnd   = 30
	pctChunkingEnd    = 40
	pctEncodeMsgEnd   = 65
	pctEncodeChunkEnd = 80
	pctStorageEnd     = 100
)

// Request describes one ingestion job.
type Request struct {
	// BatchTag names this ingestion batch; combined with a kind prefix to
	// derive collection names.
	BatchTag string

	// MessageRows and ImageRows are the raw row streams from the external
	// tabular parsers; either may be nil.
	MessageRows <-chan normalize.RawRow
	ImageRows   <-chan normalize.RawRow

	Reset bool
	Chunk chunk.Config

	EncodeBatchSize int
	StoreBatchSize  int

	ModelID    string
	DeviceHint string

	// NoiseRules overrides the default rule set; nil uses noise.DefaultRuleSet().
	NoiseRules *noise.RuleSet
}

// Indexer ties together the components the pipeline orchestrates. It holds
// no per-job state: every Launch call is independent.
type Indexer struct {
	Store  *vstore.Store
	Tasks  *task.Registry
	Logger logging.Logger
}

// New builds an Indexer over an open Store and Task Registry.
func New(store *vstore.Store, tasks *task.Registry, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Indexer{Store: store, Tasks: tasks, Logger: logger}
}

// Launch creates a task and runs the pipeline asynchronously, returning the
// task id immediately so the job can be observed without blocking. Cancel
// ctx to stop the pipeline at the next stage/batch boundary.
func (idx *Indexer) Launch(ctx context.Context, req Request) string {
	taskID := idx.Tasks.Create()
	go idx.run(ctx, taskID, req)
	return taskID
}

func (idx *Indexer) run(ctx context.Context, taskID string, req Request) {
	stats := task.Statistics{
		StartedAt:      time.Now(),
		StageDurations: make(map[task.Stage]time.Duration),
	}

	logger := idx.Logger.WithTask(taskID)

	err := idx.execute(ctx, taskID, req, &stats)
	if err != nil {
		if ctx.Err() != nil {
			err = errs.New(errs.KindCancelled, "indexer.run", fmt.Errorf("cancelled: %w", err))
		}
		logger.Error("indexing task failed", "error", err)
		_ = idx.Tasks.Fail(taskID, err)
		return
	}
	logger.Info("indexing task complete",
		"messages", stats.MessagesIndexed, "chunks", stats.ChunksIndexed, "images", stats.ImagesIndexed)
	_ = idx.Tasks.Complete(taskID, stats)
}

func (idx *Indexer) execute(ctx context.Context, taskID string, req Request, stats *task.Statistics) error {
	if req.EncodeBatchSize <= 0 {
		req.EncodeBatchSize = 32
	}
	if req.StoreBatchSize <= 0 {
		req.StoreBatchSize = 256
	}
	rules := req.NoiseRules
	if rules == nil {
		rules = noise.DefaultRuleSet()
	}

	h, err := embedder.Load(req.ModelID, req.DeviceHint)
	if err != nil {
		return err
	}

	// Stage: parsing.
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	_ = idx.Tasks.Update(taskID, pctParsingStart, task.StageParsing, "parsing source rows")
	st := time.Now()

	var messages []*model.Message
	var images []*model.ImageRecord
	parseStats := normalize.Stats{}

	if req.MessageRows != nil {
		for rec := range normalize.Normalize(ctx, req.MessageRows, normalize.SourceMessages, &parseStats) {
			messages = append(messages, rec.Message)
		}
	}
	if req.ImageRows != nil {
		for rec := range normalize.Normalize(ctx, req.ImageRows, normalize.SourceImages, &parseStats) {
			images = append(images, rec.Image)
		}
	}
	stats.MessagesParsed = parseStats.Accepted
	stats.RowsSkipped = parseStats.Skipped
	stats.StageDurations[task.StageParsing] = time.Since(st)
	_ = idx.Tasks.Update(taskID, pctParsingEnd, task.StageParsing, fmt.Sprintf("parsed %d rows, skipped %d", parseStats.Accepted, parseStats.Skipped))

	// Stage: denoising.
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st = time.Now()
	rules.FlagMessages(messages)
	stats.StageDurations[task.StageDenoising] = time.Since(st)
	_ = idx.Tasks.Update(taskID, pctDenoisingEnd, task.StageDenoising, fmt.Sprintf("flagged noise on %d messages", len(messages)))

	// Stage: chunking.
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st = time.Now()
	chunks := chunk.Build(messages, req.Chunk)
	stats.StageDurations[task.StageChunking] = time.Since(st)
	_ = idx.Tasks.Update(taskID, pctChunkingEnd, task.StageChunking, fmt.Sprintf("built %d context chunks", len(chunks)))

	// Stage: encoding (messages).
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st = time.Now()
	messageRows, err := idx.encodeItems(ctx, h, taskID, messageItems(messages), req.EncodeBatchSize, pctChunkingEnd, pctEncodeMsgEnd, "messages")
	if err != nil {
		return err
	}
	stats.StageDurations[task.StageEncoding] += time.Since(st)
	stats.MessagesIndexed = len(messageRows)

	// Stage: encoding (chunks).
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st = time.Now()
	chunkRows, err := idx.encodeItems(ctx, h, taskID, chunkItems(chunks), req.EncodeBatchSize, pctEncodeMsgEnd, pctEncodeChunkEnd, "chunks")
	if err != nil {
		return err
	}
	stats.StageDurations[task.StageEncoding] += time.Since(st)
	stats.ChunksIndexed = len(chunkRows)

	var imageRows []model.Row
	if len(images) > 0 {
		imageRows, err = idx.encodeItems(ctx, h, taskID, imageItems(images), req.EncodeBatchSize, pctEncodeChunkEnd, pctEncodeChunkEnd, "images")
		if err != nil {
			return err
		}
		stats.ImagesIndexed = len(imageRows)
	}

	// Stage: storage. Nothing is written until every embedding above has
	// been computed, so a mid-encode failure leaves the store untouched.
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	st = time.Now()
	writes, err := idx.collectionWrites(req, h, messageRows, chunkRows, imageRows)
	if err != nil {
		return err
	}
	if err := idx.storeAll(ctx, taskID, writes, req.StoreBatchSize, pctEncodeChunkEnd, pctStorageEnd); err != nil {
		return err
	}
	stats.StageDurations[task.StageStorage] = time.Since(st)
	_ = idx.Tasks.Update(taskID, pctStorageEnd, task.StageStorage, "storage complete")

	return nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.New(errs.KindCancelled, "indexer", ctx.Err())
	default:
		return nil
	}
}

// encodable is one row awaiting embedding: an id, document text, and the
// metadata attributes the row carries once stored.
type encodable struct {
	ID       string
	Document string
	Metadata model.Metadata
}

func messageItems(messages []*model.Message) []encodable {
	items := make([]encodable, len(messages))
	for i, m := range messages {
		items[i] = encodable{ID: m.ID, Document: m.Text, Metadata: messageMetadata(m)}
	}
	return items
}

func chunkItems(chunks []*model.ContextChunk) []encodable {
	items := make([]encodable, len(chunks))
	for i, c := range chunks {
		items[i] = encodable{ID: c.ID, Document: c.Text, Metadata: chunkMetadata(c)}
	}
	return items
}

func imageItems(images []*model.ImageRecord) []encodable {
	items := make([]encodable, len(images))
	for i, img := range images {
		items[i] = encodable{ID: img.ID, Document: img.Description, Metadata: imageMetadata(img)}
	}
	return items
}

// encodeItems computes one vector per item in batches of batchSize,
// reporting proportional progress across [pctStart, pctEnd] after each
// batch; encoding dominates wall time, so this is where sub-stage progress
// comes from.
func (idx *Indexer) encodeItems(ctx context.Context, h *embedder.Handle, taskID string, items []encodable, batchSize, pctStart, pctEnd int, label string) ([]model.Row, error) {
	if len(items) == 0 {
		_ = idx.Tasks.Update(taskID, pctEnd, task.StageEncoding, fmt.Sprintf("no %s to encode", label))
		return nil, nil
	}

	rows := make([]model.Row, 0, len(items))
	totalBatches := (len(items) + batchSize - 1) / batchSize

	for i := 0; i < len(items); i += batchSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]

		texts := make([]string, len(batch))
		for j, it := range batch {
			texts[j] = it.Document
		}
		vecs, err := embedder.Encode(ctx, h, texts, len(texts))
		if err != nil {
			return nil, err
		}
		for j, it := range batch {
			rows = append(rows, model.Row{ID: it.ID, Document: it.Document, Metadata: it.Metadata, Vector: vecs[j]})
		}

		batchNum := i/batchSize + 1
		pct := pctStart + (pctEnd-pctStart)*batchNum/totalBatches
		_ = idx.Tasks.Update(taskID, pct, task.StageEncoding, fmt.Sprintf("encoded %s batch %d/%d", label, batchNum, totalBatches))
	}
	return rows, nil
}

// collectionWrite bundles one collection's target identity and the rows
// ready to upsert into it.
type collectionWrite struct {
	Name  string
	Kind  vstore.Kind
	Dim   int
	Model string
	Rows  []model.Row
	Reset bool
}

func (idx *Indexer) collectionWrites(req Request, h *embedder.Handle, messageRows, chunkRows, imageRows []model.Row) ([]collectionWrite, error) {
	var writes []collectionWrite

	msgName, err := CollectionName(vstore.KindMessages, req.BatchTag)
	if err != nil {
		return nil, err
	}
	writes = append(writes, collectionWrite{Name: msgName, Kind: vstore.KindMessages, Dim: h.Dim(), Model: h.ModelID(), Rows: messageRows, Reset: req.Reset})

	chunkName, err := CollectionName(vstore.KindChunks, req.BatchTag)
	if err != nil {
		return nil, err
	}
	writes = append(writes, collectionWrite{Name: chunkName, Kind: vstore.KindChunks, Dim: h.Dim(), Model: h.ModelID(), Rows: chunkRows, Reset: req.Reset})

	if len(imageRows) > 0 {
		imgName, err := CollectionName(vstore.KindImages, req.BatchTag)
		if err != nil {
			return nil, err
		}
		writes = append(writes, collectionWrite{Name: imgName, Kind: vstore.KindImages, Dim: h.Dim(), Model: h.ModelID(), Rows: imageRows, Reset: req.Reset})
	}
	return writes, nil
}

// storeAll creates each target collection and upserts its rows in batches,
// writing disjoint collections concurrently (safe: one pipeline's target
// collections never overlap) and reporting progress across
// [pctStart, pctEnd] proportional to rows written so far.
func (idx *Indexer) storeAll(ctx context.Context, taskID string, writes []collectionWrite, batchSize, pctStart, pctEnd int) error {
	total := 0
	for _, w := range writes {
		total += len(w.Rows)
	}

	var progressMu sync.Mutex
	written := 0
	reportProgress := func(n int) {
		if total == 0 {
			return
		}
		progressMu.Lock()
		written += n
		pct := pctStart + (pctEnd-pctStart)*written/total
		progressMu.Unlock()
		_ = idx.Tasks.Update(taskID, pct, task.StageStorage, fmt.Sprintf("stored %d/%d rows", written, total))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			if _, err := idx.Store.CreateCollection(gctx, w.Name, w.Kind, w.Dim, w.Model); err != nil {
				return err
			}
			if len(w.Rows) == 0 {
				if w.Reset {
					// An empty batch still clears prior rows under reset.
					return idx.Store.Upsert(gctx, w.Name, nil, vstore.UpsertOptions{Reset: true})
				}
				return nil
			}
			reset := w.Reset // only the first batch carries Reset; later batches upsert
			for i := 0; i < len(w.Rows); i += batchSize {
				if err := checkCancelled(gctx); err != nil {
					return err
				}
				end := i + batchSize
				if end > len(w.Rows) {
					end = len(w.Rows)
				}
				if err := idx.Store.Upsert(gctx, w.Name, w.Rows[i:end], vstore.UpsertOptions{Reset: reset}); err != nil {
					return err
				}
				reset = false
				reportProgress(end - i)
			}
			return nil
		})
	}
	return g.Wait()
}
