package gateway

import (
	"context"
	"io"
	"time"

	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

// Instrumented decorates a Gateway with request metrics and debug logging
type Instrumented struct {
	next    Gateway
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// Instrument wraps next. Nil metrics and logger are allowed.
func Instrument(next Gateway, m *metrics.Metrics, logger *logging.Logger) *Instrumented {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Instrumented{
		next:    next,
		metrics: m,
		logger:  logger.Component("gateway"),
		now:     time.Now,
	}
}

// Unwrap returns the wrapped gateway
func (g *Instrumented) Unwrap() Gateway { return g.next }

func (g *Instrumented) observe(op string, start time.Time, err error) {
	elapsed := g.now().Sub(start)
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		g.logger.Debug().Str("op", op).Str("kind", outcome).Err(err).Dur("elapsed", elapsed).Msg("gateway request failed")
	} else {
		g.logger.Debug().Str("op", op).Dur("elapsed", elapsed).Msg("gateway request")
	}
	g.metrics.RecordGatewayRequest(op, outcome, elapsed)
}

func (g *Instrumented) List(ctx context.Context, path string, force bool) (*models.Listing, error) {
	start := g.now()
	listing, err := g.next.List(ctx, path, force)
	g.observe("list", start, err)
	return listing, err
}

func (g *Instrumented) Search(ctx context.Context, query string) (*models.DirectoryPayload, error) {
	start := g.now()
	payload, err := g.next.Search(ctx, query)
	g.observe("search", start, err)
	return payload, err
}

func (g *Instrumented) Upload(ctx context.Context, path, name string, size int64, r io.Reader, onProgress ProgressFunc) error {
	start := g.now()
	err := g.next.Upload(ctx, path, name, size, r, onProgress)
	g.observe("upload", start, err)
	return err
}

func (g *Instrumented) Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error {
	start := g.now()
	err := g.next.Delete(ctx, id, t, parentPath)
	g.observe("delete", start, err)
	return err
}

func (g *Instrumented) Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error {
	start := g.now()
	err := g.next.Rename(ctx, id, newName, t, parentPath)
	g.observe("rename", start, err)
	return err
}

func (g *Instrumented) MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error {
	start := g.now()
	err := g.next.MoveOrCopy(ctx, id, destPath, op)
	g.observe(string(op), start, err)
	return err
}

func (g *Instrumented) CreateFolder(ctx context.Context, parentPath, name string) error {
	start := g.now()
	err := g.next.CreateFolder(ctx, parentPath, name)
	g.observe("create_folder", start, err)
	return err
}

func (g *Instrumented) BrowseSubfolders(ctx context.Context, path string) ([]models.Folder, error) {
	start := g.now()
	folders, err := g.next.BrowseSubfolders(ctx, path)
	g.observe("browse_subfolders", start, err)
	return folders, err
}

var _ Gateway = (*Instrumented)(nil)
