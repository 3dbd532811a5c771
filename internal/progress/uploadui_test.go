package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/transfer"
)

func TestUploadUIPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	ui := newUploadUI(&buf, false)

	bus := events.NewEventBus(64)
	detach := ui.Attach(bus)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	batch := transfer.NewBatch("/Docs", []transfer.FileInfo{
		{Name: "a.txt", Size: 2048},
		{Name: "b.txt", Size: 10},
	}, bus, clock)
	tasks := batch.Tasks()

	_ = batch.Start(tasks[0].ID)
	_ = batch.UpdateProgress(tasks[0].ID, 50)
	clock.Advance(1500 * time.Millisecond)
	_ = batch.Complete(tasks[0].ID)

	_ = batch.Start(tasks[1].ID)
	_ = batch.UpdateProgress(tasks[1].ID, 25)
	_ = batch.Fail(tasks[1].ID, errors.New("quota exceeded"))
	batch.Finish()

	detach()
	bus.Close()

	out := buf.String()
	expected := []string{
		"Uploading [1/2]: a.txt (2.0 KiB)",
		"✓ a.txt (2.0 KiB, 1.5s)",
		"Uploading [2/2]: b.txt (10 B)",
		"✗ b.txt at 25%: quota exceeded",
		"Batch complete: 1 of 2 uploaded to /Docs, 1 failed",
	}
	for _, line := range expected {
		if !strings.Contains(out, line) {
			t.Errorf("Expected output to contain %q, got:\n%s", line, out)
		}
	}
	if ui.IsTerminal() {
		t.Errorf("Expected plain mode for a non-terminal writer")
	}
}

func TestUploadUIIgnoresUnknownTasks(t *testing.T) {
	var buf bytes.Buffer
	ui := newUploadUI(&buf, false)

	ui.Handle(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferCompleted, Time: time.Now()},
		TaskID:    "missing",
	})
	if buf.Len() != 0 {
		t.Errorf("Expected no output for an unknown task, got %q", buf.String())
	}
}

func TestSpinnerNilSafe(t *testing.T) {
	var s *Spinner
	s.Describe("listing")
	s.Stop()

	var buf bytes.Buffer
	s = newSpinner(&buf, "listing /")
	s.Describe("listing /Docs")
	s.Stop()
}
