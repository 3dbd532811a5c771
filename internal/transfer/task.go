// Package transfer tracks upload batches. A batch observes uploads executed
// elsewhere and publishes task progress on the event bus.
package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of an upload task.
type Status string

const (
	StatusUploading Status = "uploading" // Created or transferring
	StatusSuccess   Status = "success"   // Upload finished
	StatusError     Status = "error"     // Upload failed
)

// UploadTask represents a single file upload in a batch.
// Thread-safe: Use the provided methods to update state.
type UploadTask struct {
	ID       string
	BatchID  string
	FileName string
	Size     int64

	Progress int // 0 to 100, never decreases
	Status   Status
	Error    error

	CreatedAt   time.Time
	CompletedAt time.Time

	mu sync.RWMutex
}

// NewUploadTask creates a task at 0% in StatusUploading.
func NewUploadTask(batchID, fileName string, size int64, now time.Time) *UploadTask {
	return &UploadTask{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		FileName:  fileName,
		Size:      size,
		Status:    StatusUploading,
		CreatedAt: now,
	}
}

// GetStatus returns the current status (thread-safe).
func (t *UploadTask) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// GetProgress returns the current percentage (thread-safe).
func (t *UploadTask) GetProgress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Progress
}

// GetError returns the failure, if any (thread-safe).
func (t *UploadTask) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// SetProgress clamps percent to 0..100 and applies it if it moves forward.
// Terminal tasks are not updated. Reports whether the value changed.
func (t *UploadTask) SetProgress(percent int) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusUploading || percent <= t.Progress {
		return false
	}
	t.Progress = percent
	return true
}

// Complete marks the task successful at 100%.
func (t *UploadTask) Complete(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusUploading {
		return false
	}
	t.Status = StatusSuccess
	t.Progress = 100
	t.CompletedAt = now
	return true
}

// Fail marks the task failed, keeping the progress it reached.
func (t *UploadTask) Fail(err error, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusUploading {
		return false
	}
	t.Status = StatusError
	t.Error = err
	t.CompletedAt = now
	return true
}

// IsTerminal returns true once the task reached Success or Error.
func (t *UploadTask) IsTerminal() bool {
	return t.GetStatus() != StatusUploading
}

// Clone returns a copy of the task for safe external use.
func (t *UploadTask) Clone() UploadTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return UploadTask{
		ID:          t.ID,
		BatchID:     t.BatchID,
		FileName:    t.FileName,
		Size:        t.Size,
		Progress:    t.Progress,
		Status:      t.Status,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}
