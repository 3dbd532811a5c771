// Package fileops runs uploads and the confirm-then-execute file operations
// against the remote repository, then reconciles the browsing view.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
	"github.com/portalworks/docbrowse/internal/transfer"
	"github.com/portalworks/docbrowse/internal/validation"
)

var (
	// ErrNoPendingOperation is returned by a Confirm call without a matching Begin
	ErrNoPendingOperation = errors.New("no matching operation is pending")

	// ErrNoFiles is returned by Upload without sources
	ErrNoFiles = errors.New("no files to upload")
)

// OpKind tags a PendingOperation
type OpKind int

const (
	OpDelete OpKind = iota + 1
	OpRename
	OpMoveOrCopy
	OpCreateFolder
)

func (k OpKind) String() string {
	switch k {
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpMoveOrCopy:
		return "move_or_copy"
	case OpCreateFolder:
		return "create_folder"
	default:
		return "unknown"
	}
}

// PendingOperation is the operation awaiting confirmation. Item is set for
// delete, rename and move/copy; ParentPath for create folder; Transfer for move/copy.
type PendingOperation struct {
	Kind       OpKind
	Item       models.Entry
	Transfer   models.TransferOp
	ParentPath string
}

// Reloader is the part of the browsing controller the pipeline reconciles
type Reloader interface {
	CurrentPath() string
	Reload(ctx context.Context, force bool) error
}

// UploadSource is one file to upload
type UploadSource struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileSource describes a local file for upload
func FileSource(path string) (UploadSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadSource{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return UploadSource{}, fmt.Errorf("%s is a directory", path)
	}
	return UploadSource{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithCache evicts affected listings after successful operations
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithEventBus publishes notifications and upload progress on bus
func WithEventBus(bus *events.EventBus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// WithClock injects the clock for the upload summary dismissal
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline executes explicit file operations. It holds at most one pending
// operation and implements browser.NavigationGuard while it does.
type Pipeline struct {
	gw      gateway.Gateway
	ctl     Reloader
	cache   *cache.Cache
	bus     *events.EventBus
	clock   clockwork.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending *PendingOperation
	batch   *transfer.Batch
	dismiss clockwork.Timer
	wg      sync.WaitGroup
}

// New creates a pipeline that reloads ctl after every successful operation
func New(gw gateway.Gateway, ctl Reloader, opts ...Option) *Pipeline {
	p := &Pipeline{
		gw:     gw,
		ctl:    ctl,
		clock:  clockwork.NewRealClock(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Component("fileops")
	return p
}

// HasPendingOperation reports whether a modal operation awaits confirmation
func (p *Pipeline) HasPendingOperation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Pending returns the operation awaiting confirmation
func (p *Pipeline) Pending() (PendingOperation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return PendingOperation{}, false
	}
	return *p.pending, true
}

func (p *Pipeline) begin(op PendingOperation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		return browser.ErrOperationPending
	}
	p.pending = &op
	return nil
}

// BeginDelete opens the delete confirmation for item
func (p *Pipeline) BeginDelete(item models.Entry) error {
	return p.begin(PendingOperation{Kind: OpDelete, Item: item})
}

// BeginRename opens the rename dialog for item
func (p *Pipeline) BeginRename(item models.Entry) error {
	return p.begin(PendingOperation{Kind: OpRename, Item: item})
}

// BeginMoveOrCopy opens the destination picker for item
func (p *Pipeline) BeginMoveOrCopy(item models.Entry, op models.TransferOp) error {
	if !op.Valid() {
		return gateway.NewError(gateway.KindValidation, OpMoveOrCopy.String(), fmt.Errorf("unknown transfer operation %q", op))
	}
	return p.begin(PendingOperation{Kind: OpMoveOrCopy, Item: item, Transfer: op})
}

// BeginCreateFolder opens the new folder dialog under parentPath
func (p *Pipeline) BeginCreateFolder(parentPath string) error {
	return p.begin(PendingOperation{Kind: OpCreateFolder, ParentPath: models.NormalizePath(parentPath)})
}

// Cancel discards the pending operation
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

func (p *Pipeline) pendingOf(kind OpKind) (PendingOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.pending.Kind != kind {
		return PendingOperation{}, ErrNoPendingOperation
	}
	return *p.pending, nil
}

// ConfirmDelete deletes the pending item
func (p *Pipeline) ConfirmDelete(ctx context.Context) error {
	op, err := p.pendingOf(OpDelete)
	if err != nil {
		return err
	}
	item := op.Item
	parent := models.ParentPath(item.EntryPath())

	err = p.gw.Delete(ctx, item.EntryID(), item.EntryType(), parent)

	var trees []string
	if item.IsFolder() {
		trees = append(trees, item.EntryPath())
	}
	return p.complete(ctx, "delete", err, fmt.Sprintf("Deleted %s", item.EntryName()), []string{parent}, trees)
}

// ConfirmRename renames the pending item. Renaming to the current name closes
// the dialog without contacting the gateway.
func (p *Pipeline) ConfirmRename(ctx context.Context, newName string) error {
	op, err := p.pendingOf(OpRename)
	if err != nil {
		return err
	}
	name, err := validation.ValidateName(newName)
	if err != nil {
		return gateway.NewError(gateway.KindValidation, "rename", err)
	}

	item := op.Item
	if name == item.EntryName() {
		p.Cancel()
		return nil
	}
	parent := models.ParentPath(item.EntryPath())

	err = p.gw.Rename(ctx, item.EntryID(), name, item.EntryType(), parent)

	var trees []string
	if item.IsFolder() {
		trees = append(trees, item.EntryPath())
	}
	return p.complete(ctx, "rename", err, fmt.Sprintf("Renamed %s to %s", item.EntryName(), name), []string{parent}, trees)
}

// ConfirmMoveOrCopy moves or copies the pending item into dest
func (p *Pipeline) ConfirmMoveOrCopy(ctx context.Context, dest string) error {
	op, err := p.pendingOf(OpMoveOrCopy)
	if err != nil {
		return err
	}
	opName := string(op.Transfer)
	item := op.Item
	dest = models.NormalizePath(dest)
	if err := validation.ValidateDestination(item, dest); err != nil {
		return gateway.NewError(gateway.KindValidation, opName, err)
	}

	err = p.gw.MoveOrCopy(ctx, item.EntryID(), dest, op.Transfer)

	dirs := []string{dest}
	var trees []string
	if op.Transfer == models.OpMove {
		dirs = append(dirs, models.ParentPath(item.EntryPath()))
		if item.IsFolder() {
			trees = append(trees, item.EntryPath())
		}
	}
	verb := "Copied"
	if op.Transfer == models.OpMove {
		verb = "Moved"
	}
	return p.complete(ctx, opName, err, fmt.Sprintf("%s %s to %s", verb, item.EntryName(), dest), dirs, trees)
}

// ConfirmCreateFolder creates name under the pending parent path
func (p *Pipeline) ConfirmCreateFolder(ctx context.Context, name string) error {
	op, err := p.pendingOf(OpCreateFolder)
	if err != nil {
		return err
	}
	name, err = validation.ValidateName(name)
	if err != nil {
		return gateway.NewError(gateway.KindValidation, "create_folder", err)
	}

	err = p.gw.CreateFolder(ctx, op.ParentPath, name)
	return p.complete(ctx, "create_folder", err, fmt.Sprintf("Created folder %s", name), []string{op.ParentPath}, nil)
}

// complete reports the outcome of an explicit operation. Failures leave the
// pending operation open; successes clear it, evict affected listings and
// force a reload of the current path.
func (p *Pipeline) complete(ctx context.Context, opName string, err error, message string, dirs, trees []string) error {
	if err != nil {
		kind := gateway.KindOf(err)
		if kind == gateway.KindUnknown {
			kind = gateway.KindOperationFailed
			err = gateway.NewError(kind, opName, err)
		}
		p.metrics.RecordFileOperation(opName, false)
		p.bus.Notify(events.NotifyError, opName, fmt.Sprintf("%s failed: %v", opName, err), kind.String(), err)
		p.logger.Warn().Str("op", opName).Str("kind", kind.String()).Err(err).Msg("Operation failed")
		return err
	}

	p.Cancel()
	p.metrics.RecordFileOperation(opName, true)
	for _, d := range dirs {
		p.cache.InvalidateDirectory(ctx, d)
	}
	for _, t := range trees {
		p.cache.InvalidateTree(ctx, t)
	}
	p.bus.Notify(events.NotifySuccess, opName, message, "", nil)
	p.logger.Info().Str("op", opName).Msg(message)

	p.reload(ctx)
	return nil
}

func (p *Pipeline) reload(ctx context.Context) {
	if p.ctl == nil {
		return
	}
	if err := p.ctl.Reload(ctx, true); err != nil {
		p.logger.Debug().Err(err).Msg("Reload after operation failed")
	}
}
