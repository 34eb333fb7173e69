// Package task implements the Task Registry: an in-memory, thread-safe map
// from opaque task ids to indexing-pipeline state, with a bounded per-task
// event channel so observers can watch progress without blocking the
// producer.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forensics/semsearch/internal/errs"
)

// State is one of the four lifecycle states a Task can occupy.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stage names the indexing pipeline stage a progress event was raised from.
type Stage string

const (
	StageParsing   Stage = "parsing"
	StageDenoising Stage = "denoising"
	StageChunking  Stage = "chunking"
	StageEncoding  Stage = "encoding"
	StageStorage   Stage = "storage"
)

// Statistics carries per-stage durations and counters, populated on
// successful completion.
type Statistics struct {
	StartedAt       time.Time
	FinishedAt      time.Time
	MessagesParsed  int
	RowsSkipped     int
	MessagesIndexed int
	ChunksIndexed   int
	ImagesIndexed   int
	StageDurations  map[Stage]time.Duration
}

// Event is one progress notification as it is emitted to observers.
type Event struct {
	TaskID   string
	Progress int
	Stage    Stage
	Message  string
	Elapsed  time.Duration
}

// Task is the registry's view of one indexing job.
type Task struct {
	ID         string
	State      State
	Progress   int
	Stage      Stage
	Message    string
	Statistics *Statistics
	Err        error
	CreatedAt  time.Time
}

// snapshot copies the fields observers are allowed to see, so callers never
// hold a reference into the registry's internal state.
func (t *Task) snapshot() Task {
	cp := *t
	return cp
}

type entry struct {
	mu          sync.Mutex
	task        Task
	subscribers map[int]chan Event
	nextSub     int
}

// Registry is the process-wide Task Registry. Zero value is
// not usable; construct with New.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*entry)}
}

// Create registers a new pending task and returns its opaque id.
func (r *Registry) Create() string {
	id := uuid.NewString()
	e := &entry{
		task: Task{
			ID:        id,
			State:     StatePending,
			CreatedAt: time.Now(),
		},
		subscribers: make(map[int]chan Event),
	}
	r.mu.Lock()
	r.tasks[id] = e
	r.mu.Unlock()
	return id
}

func (r *Registry) lookup(taskID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindTaskNotFound, "task.Registry", "task %q not found", taskID)
	}
	return e, nil
}

// Update transitions a task to running (if not already terminal) and
// records a progress event, publishing it to every subscriber. Progress
// values are clamped to [0,100] and never move backward within a task.
func (r *Registry) Update(taskID string, progress int, stage Stage, message string) error {
	e, err := r.lookup(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < e.task.Progress {
		progress = e.task.Progress
	}
	if e.task.State == StatePending {
		e.task.State = StateRunning
	}
	e.task.Progress = progress
	e.task.Stage = stage
	e.task.Message = message
	elapsed := time.Since(e.task.CreatedAt)
	evt := Event{TaskID: taskID, Progress: progress, Stage: stage, Message: message, Elapsed: elapsed}
	r.publish(e, evt)
	e.mu.Unlock()
	return nil
}

// Complete marks a task terminal-success with final statistics.
func (r *Registry) Complete(taskID string, stats Statistics) error {
	e, err := r.lookup(taskID)
	if err != nil {
		return err
	}
	stats.FinishedAt = time.Now()

	e.mu.Lock()
	e.task.State = StateCompleted
	e.task.Progress = 100
	statsCopy := stats
	e.task.Statistics = &statsCopy
	evt := Event{TaskID: taskID, Progress: 100, Stage: e.task.Stage, Message: "complete", Elapsed: time.Since(e.task.CreatedAt)}
	r.publish(e, evt)
	r.closeSubscribers(e)
	e.mu.Unlock()
	return nil
}

// Fail marks a task terminal-failure, retaining the error.
func (r *Registry) Fail(taskID string, cause error) error {
	e, err := r.lookup(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.task.State = StateFailed
	e.task.Err = cause
	evt := Event{TaskID: taskID, Progress: e.task.Progress, Stage: e.task.Stage, Message: cause.Error(), Elapsed: time.Since(e.task.CreatedAt)}
	r.publish(e, evt)
	r.closeSubscribers(e)
	e.mu.Unlock()
	return nil
}

// Get returns a snapshot of a task's current state.
func (r *Registry) Get(taskID string) (Task, error) {
	e, err := r.lookup(taskID)
	if err != nil {
		return Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.snapshot(), nil
}

// Subscribe returns a bounded channel of Events for taskID, and the task's
// state as it existed at subscription time. The channel receives every
// subsequent event and is closed once the task reaches a terminal state; a
// subscriber that joins after the task is already terminal gets a
// pre-closed channel immediately. The returned snapshot carries the current
// state, so a late subscriber misses nothing.
func (r *Registry) Subscribe(taskID string, bufSize int) (<-chan Event, Task, error) {
	e, err := r.lookup(taskID)
	if err != nil {
		return nil, Task{}, err
	}
	if bufSize <= 0 {
		bufSize = 16
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, bufSize)
	if e.task.State == StateCompleted || e.task.State == StateFailed {
		close(ch)
		return ch, e.task.snapshot(), nil
	}
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	return ch, e.task.snapshot(), nil
}

// publish fans an event out to every live subscriber without blocking on a
// full channel (a slow observer drops events rather than stalling the
// pipeline).
func (r *Registry) publish(e *entry, evt Event) {
	for _, ch := range e.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (r *Registry) closeSubscribers(e *entry) {
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}
