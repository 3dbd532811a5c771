package transfer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/models"
)

// ErrTaskNotFound is returned for an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// FileInfo describes one file of a batch before it is uploaded.
type FileInfo struct {
	Name string
	Size int64
}

// Summary counts the outcome of a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Pending returns the number of tasks still uploading.
func (s Summary) Pending() int {
	return s.Total - s.Succeeded - s.Failed
}

// Batch is a passive tracker for the uploads of one target folder.
// It does NOT execute uploads - that is handled by the caller, which reports
// progress via UpdateProgress and outcomes via Complete/Fail.
type Batch struct {
	ID   string
	Path string

	tasks     []*UploadTask
	tasksByID map[string]*UploadTask
	mu        sync.RWMutex
	finished  bool
	dismissed bool

	eventBus *events.EventBus
	clock    clockwork.Clock
}

// NewBatch creates one task per file at 0% and publishes a queued event for each.
func NewBatch(path string, files []FileInfo, eventBus *events.EventBus, clock clockwork.Clock) *Batch {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Batch{
		ID:        uuid.NewString(),
		Path:      models.NormalizePath(path),
		tasks:     make([]*UploadTask, 0, len(files)),
		tasksByID: make(map[string]*UploadTask, len(files)),
		eventBus:  eventBus,
		clock:     clock,
	}

	now := clock.Now()
	for _, f := range files {
		task := NewUploadTask(b.ID, f.Name, f.Size, now)
		b.tasks = append(b.tasks, task)
		b.tasksByID[task.ID] = task
	}
	for _, task := range b.tasks {
		b.publishTransferEvent(events.EventTransferQueued, task)
	}
	return b
}

func (b *Batch) task(taskID string) (*UploadTask, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	task, ok := b.tasksByID[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Start announces that bytes of a task are about to move.
func (b *Batch) Start(taskID string) error {
	task, err := b.task(taskID)
	if err != nil {
		return err
	}
	b.publishTransferEvent(events.EventTransferStarted, task)
	return nil
}

// UpdateProgress applies a percentage to exactly one task.
// Out-of-range values are clamped and backwards moves are ignored.
func (b *Batch) UpdateProgress(taskID string, percent int) error {
	task, err := b.task(taskID)
	if err != nil {
		return err
	}
	if task.SetProgress(percent) {
		b.publishTransferEvent(events.EventTransferProgress, task)
	}
	return nil
}

// Complete marks a task as successfully uploaded.
func (b *Batch) Complete(taskID string) error {
	task, err := b.task(taskID)
	if err != nil {
		return err
	}
	if task.Complete(b.clock.Now()) {
		b.publishTransferEvent(events.EventTransferCompleted, task)
	}
	return nil
}

// Fail marks a task as failed. Other tasks are unaffected.
func (b *Batch) Fail(taskID string, cause error) error {
	task, err := b.task(taskID)
	if err != nil {
		return err
	}
	if task.Fail(cause, b.clock.Now()) {
		b.publishTransferEvent(events.EventTransferFailed, task)
	}
	return nil
}

// Done reports whether every task is terminal.
func (b *Batch) Done() bool {
	return b.Summary().Pending() == 0
}

// Summary returns the current outcome counts.
func (b *Batch) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Summary{Total: len(b.tasks)}
	for _, task := range b.tasks {
		switch task.GetStatus() {
		case StatusSuccess:
			s.Succeeded++
		case StatusError:
			s.Failed++
		}
	}
	return s
}

// Finish publishes the completion summary once every task is terminal.
// It reports false while tasks are still uploading or after the first call.
func (b *Batch) Finish() (Summary, bool) {
	s := b.Summary()
	if s.Pending() > 0 {
		return s, false
	}

	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return s, false
	}
	b.finished = true
	b.mu.Unlock()

	b.publishBatchEvent(events.EventBatchComplete, s)
	return s, true
}

// Dismiss hides the completion summary. Only the first call publishes.
func (b *Batch) Dismiss() bool {
	b.mu.Lock()
	if b.dismissed {
		b.mu.Unlock()
		return false
	}
	b.dismissed = true
	b.mu.Unlock()

	b.publishBatchEvent(events.EventBatchDismissed, b.Summary())
	return true
}

// Dismissed reports whether the summary was dismissed.
func (b *Batch) Dismissed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dismissed
}

// Tasks returns copies of all tasks in creation order.
func (b *Batch) Tasks() []UploadTask {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]UploadTask, len(b.tasks))
	for i, task := range b.tasks {
		result[i] = task.Clone()
	}
	return result
}

// Task returns a copy of a specific task by ID.
func (b *Batch) Task(taskID string) (UploadTask, bool) {
	task, err := b.task(taskID)
	if err != nil {
		return UploadTask{}, false
	}
	return task.Clone(), true
}

// publishTransferEvent publishes a transfer event to the event bus.
func (b *Batch) publishTransferEvent(eventType events.EventType, task *UploadTask) {
	if b.eventBus == nil {
		return
	}

	snap := task.Clone()
	b.eventBus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      b.clock.Now(),
		},
		TaskID:   snap.ID,
		BatchID:  b.ID,
		Name:     snap.FileName,
		Size:     snap.Size,
		Progress: snap.Progress,
		Error:    snap.Error,
	})
}

func (b *Batch) publishBatchEvent(eventType events.EventType, s Summary) {
	if b.eventBus == nil {
		return
	}

	b.eventBus.Publish(&events.BatchEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      b.clock.Now(),
		},
		BatchID:   b.ID,
		Path:      b.Path,
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
	})
}
