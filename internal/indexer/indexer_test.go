package indexer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/forensics/semsearch/internal/chunk"
	_ "github.com/forensics/semsearch/internal/embedder" // registers local-hash loader via init
	"github.com/forensics/semsearch/internal/logging"
	"github.com/forensics/semsearch/internal/normalize"
	"github.com/forensics/semsearch/internal/task"
	"github.com/forensics/semsearch/internal/vstore"
)

func newTestIndexer(t *testing.T) (*Indexer, *vstore.Store) {
	t.Helper()
	path := fmt.Sprintf("%s/indexer_test_%d.db", t.TempDir(), time.Now().UnixNano())
	store, err := vstore.Open(context.Background(), vstore.Config{Path: path})
	if err != nil {
		t.Fatalf("vstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(path)
	})
	reg := task.New()
	return New(store, reg, logging.Nop()), store
}

func rawMessageRows(n int, contact string) <-chan normalize.RawRow {
	ch := make(chan normalize.RawRow, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ch <- normalize.RawRow{
			"id":        fmt.Sprintf("m%d", i),
			"text":      fmt.Sprintf("hello world %d", i),
			"timestamp": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"contact":   contact,
			"direction": "incoming",
		}
	}
	close(ch)
	return ch
}

func waitForTerminal(t *testing.T, reg *task.Registry, taskID string) task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := reg.Get(taskID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == task.StateCompleted || got.State == task.StateFailed {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", taskID)
	return task.Task{}
}

func TestIngestThreeMessagesWindowOne(t *testing.T) {
	idx, store := newTestIndexer(t)
	ctx := context.Background()

	req := Request{
		BatchTag:    "case1",
		MessageRows: rawMessageRows(3, "contactA"),
		Reset:       true,
		Chunk:       chunk.Config{Window: 1, Overlap: 0},
		ModelID:     "local-hash-384",
	}
	taskID := idx.Launch(ctx, req)
	final := waitForTerminal(t, idx.Tasks, taskID)
	if final.State != task.StateCompleted {
		t.Fatalf("expected completed, got %v (err=%v)", final.State, final.Err)
	}
	if final.Statistics == nil || final.Statistics.MessagesIndexed != 3 {
		t.Fatalf("expected 3 messages indexed, got %+v", final.Statistics)
	}
	if final.Statistics.ChunksIndexed != 3 {
		t.Fatalf("expected 3 chunks (window=1), got %d", final.Statistics.ChunksIndexed)
	}

	msgColl, err := CollectionName(vstore.KindMessages, "case1")
	if err != nil {
		t.Fatalf("CollectionName: %v", err)
	}
	n, err := store.Count(ctx, msgColl)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stored messages, got %d", n)
	}

	chunkColl, err := CollectionName(vstore.KindChunks, "case1")
	if err != nil {
		t.Fatalf("CollectionName: %v", err)
	}
	n, err = store.Count(ctx, chunkColl)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stored chunks, got %d", n)
	}
}

func TestProgressIsMonotonicAndTerminatesAt100(t *testing.T) {
	idx, _ := newTestIndexer(t)
	ctx := context.Background()

	taskID := idx.Tasks.Create()
	ch, _, err := idx.Tasks.Subscribe(taskID, 256)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	req := Request{
		BatchTag:        "case2",
		MessageRows:     rawMessageRows(120, "contactB"),
		Reset:           true,
		Chunk:           chunk.Config{Window: 3, Overlap: 1},
		EncodeBatchSize: 16,
		ModelID:         "local-hash-384",
	}
	go idx.run(ctx, taskID, req)

	var progressions []int
	for evt := range ch {
		progressions = append(progressions, evt.Progress)
	}

	if len(progressions) == 0 {
		t.Fatalf("expected at least one progress event")
	}
	for i := 1; i < len(progressions); i++ {
		if progressions[i] < progressions[i-1] {
			t.Fatalf("progress regressed at index %d: %v", i, progressions)
		}
	}
	if progressions[len(progressions)-1] != 100 {
		t.Fatalf("expected terminal progress 100, got %d", progressions[len(progressions)-1])
	}

	final, err := idx.Tasks.Get(taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != task.StateCompleted {
		t.Fatalf("expected completed, got %v (err=%v)", final.State, final.Err)
	}
}

func TestCollectionNameValidation(t *testing.T) {
	if _, err := CollectionName(vstore.KindMessages, ""); err != nil {
		t.Fatalf("empty batch tag should yield bare prefix: %v", err)
	}
	if _, err := CollectionName(vstore.KindMessages, "has a space"); err == nil {
		t.Fatalf("expected validation error for invalid batch tag")
	}
}
