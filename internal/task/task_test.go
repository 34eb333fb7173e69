package task

import (
	"errors"
	"testing"

	"github.com/forensics/semsearch/internal/errs"
)

func TestCreateStartsPending(t *testing.T) {
	r := New()
	id := r.Create()

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StatePending {
		t.Fatalf("expected StatePending, got %v", got.State)
	}
	if got.Progress != 0 {
		t.Fatalf("expected progress 0, got %d", got.Progress)
	}
}

func TestUpdateMovesToRunningAndClampsProgress(t *testing.T) {
	r := New()
	id := r.Create()

	if err := r.Update(id, 10, StageParsing, "parsing rows"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := r.Get(id)
	if got.State != StateRunning {
		t.Fatalf("expected StateRunning, got %v", got.State)
	}
	if got.Progress != 10 {
		t.Fatalf("expected progress 10, got %d", got.Progress)
	}

	// Progress must never move backward.
	if err := r.Update(id, 5, StageParsing, "late straggler"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = r.Get(id)
	if got.Progress != 10 {
		t.Fatalf("progress moved backward: got %d", got.Progress)
	}

	if err := r.Update(id, 150, StageStorage, "overshoot"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = r.Get(id)
	if got.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", got.Progress)
	}
}

func TestCompleteSetsStatistics(t *testing.T) {
	r := New()
	id := r.Create()
	_ = r.Update(id, 50, StageEncoding, "encoding batch 2/4")

	stats := Statistics{MessagesIndexed: 42, ChunksIndexed: 7}
	if err := r.Complete(id, stats); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := r.Get(id)
	if got.State != StateCompleted {
		t.Fatalf("expected StateCompleted, got %v", got.State)
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress 100 on completion, got %d", got.Progress)
	}
	if got.Statistics == nil || got.Statistics.MessagesIndexed != 42 {
		t.Fatalf("statistics not retained: %+v", got.Statistics)
	}
}

func TestFailRetainsError(t *testing.T) {
	r := New()
	id := r.Create()

	cause := errors.New("embedding model unreachable")
	if err := r.Fail(id, cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := r.Get(id)
	if got.State != StateFailed {
		t.Fatalf("expected StateFailed, got %v", got.State)
	}
	if got.Err == nil || got.Err.Error() != cause.Error() {
		t.Fatalf("expected retained error %q, got %v", cause, got.Err)
	}
}

func TestGetUnknownTaskIsTaskNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("does-not-exist")
	if !errs.Is(err, errs.KindTaskNotFound) {
		t.Fatalf("expected KindTaskNotFound, got %v", err)
	}
}

func TestSubscribeReceivesSubsequentEvents(t *testing.T) {
	r := New()
	id := r.Create()

	ch, snap, err := r.Subscribe(id, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap.State != StatePending {
		t.Fatalf("expected initial snapshot pending, got %v", snap.State)
	}

	_ = r.Update(id, 25, StageParsing, "parsing")
	_ = r.Update(id, 40, StageChunking, "chunking")
	_ = r.Complete(id, Statistics{MessagesIndexed: 3})

	var progressions []int
	for evt := range ch {
		progressions = append(progressions, evt.Progress)
	}
	if len(progressions) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(progressions), progressions)
	}
	for i := 1; i < len(progressions); i++ {
		if progressions[i] < progressions[i-1] {
			t.Fatalf("progress sequence not monotonic: %v", progressions)
		}
	}
	if progressions[len(progressions)-1] != 100 {
		t.Fatalf("expected terminal progress 100, got %d", progressions[len(progressions)-1])
	}
}

func TestSubscribeAfterTerminalGetsClosedChannel(t *testing.T) {
	r := New()
	id := r.Create()
	_ = r.Complete(id, Statistics{})

	ch, snap, err := r.Subscribe(id, 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap.State != StateCompleted {
		t.Fatalf("expected completed snapshot, got %v", snap.State)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel already closed for a terminal task")
	}
}
