package progress

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/portalworks/docbrowse/internal/events"
)

// UploadUI renders upload batch events as mpb progress bars, one per task.
// When the output is not a terminal it prints one line per state change.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu      sync.Mutex
	bars    map[string]*fileBar // taskID -> bar
	queued  int
	started int
}

type fileBar struct {
	bar   *mpb.Bar
	index int
	name  string
	size  int64
	start time.Time
}

// NewUploadUI creates an upload UI writing to stderr
func NewUploadUI() *UploadUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
	}
	return newUploadUI(os.Stderr, isTerminal)
}

func newUploadUI(out io.Writer, isTerminal bool) *UploadUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	}
	return &UploadUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*fileBar),
	}
}

// Attach consumes transfer and batch events from bus until detach is called.
// detach waits for the consumer to drain.
func (u *UploadUI) Attach(bus *events.EventBus) (detach func()) {
	ch := bus.Subscribe(
		events.EventTransferQueued,
		events.EventTransferStarted,
		events.EventTransferProgress,
		events.EventTransferCompleted,
		events.EventTransferFailed,
		events.EventBatchComplete,
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			u.Handle(e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.UnsubscribeAll(ch)
			<-done
		})
	}
}

// Handle applies one event to the display
func (u *UploadUI) Handle(e events.Event) {
	switch ev := e.(type) {
	case *events.TransferEvent:
		u.handleTransfer(ev)
	case *events.BatchEvent:
		if ev.Type() == events.EventBatchComplete {
			u.printf("Batch complete: %d of %d uploaded to %s", ev.Succeeded, ev.Total, ev.Path)
			if ev.Failed > 0 {
				u.printf(", %d failed", ev.Failed)
			}
			u.printf("\n")
		}
	}
}

func (u *UploadUI) handleTransfer(ev *events.TransferEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch ev.Type() {
	case events.EventTransferQueued:
		u.queued++
		u.bars[ev.TaskID] = &fileBar{name: ev.Name, size: ev.Size}

	case events.EventTransferStarted:
		fb := u.bars[ev.TaskID]
		if fb == nil {
			return
		}
		u.started++
		fb.index = u.started
		fb.start = ev.Timestamp()
		if u.isTerminal {
			fb.bar = u.newBar(fb)
		} else {
			u.printfLocked("Uploading [%d/%d]: %s (%s)\n", fb.index, u.queued, fb.name, humanize.IBytes(uint64(fb.size)))
		}

	case events.EventTransferProgress:
		if fb := u.bars[ev.TaskID]; fb != nil && fb.bar != nil {
			fb.bar.SetCurrent(int64(ev.Progress))
		}

	case events.EventTransferCompleted:
		fb := u.bars[ev.TaskID]
		if fb == nil {
			return
		}
		if fb.bar != nil {
			fb.bar.SetCurrent(100)
			fb.bar.SetTotal(100, true)
		}
		u.printfLocked("✓ %s (%s, %s)\n", fb.name, humanize.IBytes(uint64(fb.size)), ev.Timestamp().Sub(fb.start).Round(time.Millisecond))
		delete(u.bars, ev.TaskID)

	case events.EventTransferFailed:
		fb := u.bars[ev.TaskID]
		if fb == nil {
			return
		}
		if fb.bar != nil {
			fb.bar.Abort(false)
		}
		u.printfLocked("✗ %s at %d%%: %v\n", fb.name, ev.Progress, ev.Error)
		delete(u.bars, ev.TaskID)
	}
}

// newBar tracks a task in percent, matching the upload task model
func (u *UploadUI) newBar(fb *fileBar) *mpb.Bar {
	label := fmt.Sprintf("[%d/%d] %s (%s)", fb.index, u.queued, fb.name, humanize.IBytes(uint64(fb.size)))
	return u.progress.New(100,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(decor.Name(label, decor.WCSyncSpace)),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (u *UploadUI) printf(format string, args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.printfLocked(format, args...)
}

// printfLocked writes through mpb when bars are active so output lands above them
func (u *UploadUI) printfLocked(format string, args ...interface{}) {
	fmt.Fprintf(u.Writer(), format, args...)
}

// Wait blocks until every bar has finished rendering
func (u *UploadUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that safely prints above the progress bars
func (u *UploadUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether progress bars are active
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// enableANSIOnWindows turns on virtual terminal processing for f. No-op elsewhere.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
