package browser

import (
	"context"
	"sync"

	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

// PickerSnapshot is what the destination picker renders
type PickerSnapshot struct {
	Path        string
	Folders     []models.Folder
	Loading     bool
	Err         error
	ErrorKind   gateway.Kind
	Breadcrumbs []Breadcrumb
	Generation  uint64
}

// Picker is a folder-only browser used to choose a move or copy destination.
// It shares nothing with the main controller except the gateway.
type Picker struct {
	gw      gateway.Gateway
	bus     *events.EventBus
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	s   PickerSnapshot
	gen uint64
}

// NewPicker creates a picker positioned at the root
func NewPicker(gw gateway.Gateway, bus *events.EventBus, logger *logging.Logger, m *metrics.Metrics) *Picker {
	return &Picker{
		gw:      gw,
		bus:     bus,
		logger:  logger.Component("picker"),
		metrics: m,
		s: PickerSnapshot{
			Path:        models.RootPath,
			Breadcrumbs: breadcrumbs(models.RootPath),
		},
	}
}

// Browse lists the subfolders of path. A result superseded by a later Browse is dropped.
func (p *Picker) Browse(ctx context.Context, path string) error {
	path = models.NormalizePath(path)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.s = PickerSnapshot{
		Path:        path,
		Loading:     true,
		Breadcrumbs: breadcrumbs(path),
	}
	p.publishLocked()
	p.mu.Unlock()

	folders, err := p.gw.BrowseSubfolders(ctx, path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		p.metrics.RecordStaleResponse(SurfacePicker)
		return nil
	}

	p.s.Loading = false
	if err != nil {
		p.s.Err = err
		p.s.ErrorKind = stateKind(err)
		p.publishLocked()
		p.logger.Debug().Str("path", path).Err(err).Msg("Subfolder listing failed")
		return err
	}
	if folders == nil {
		folders = []models.Folder{}
	}
	p.s.Folders = folders
	p.publishLocked()
	return nil
}

// Up browses the parent of the current path
func (p *Picker) Up(ctx context.Context) error {
	return p.Browse(ctx, models.ParentPath(p.Selected()))
}

// Enter browses the named subfolder of the current path
func (p *Picker) Enter(ctx context.Context, name string) error {
	return p.Browse(ctx, models.JoinPath(p.Selected(), name))
}

// Selected returns the folder currently chosen as destination
func (p *Picker) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.s.Path
}

// Snapshot returns a copy of the picker state
func (p *Picker) Snapshot() PickerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.s
	s.Generation = p.gen
	s.Folders = append([]models.Folder(nil), p.s.Folders...)
	s.Breadcrumbs = append([]Breadcrumb(nil), p.s.Breadcrumbs...)
	return s
}

func (p *Picker) publishLocked() {
	if p.bus == nil {
		return
	}
	state := StateReady
	switch {
	case p.s.Loading:
		state = StateCacheMissLoading
	case p.s.Err != nil:
		state = StateError
	}
	p.bus.PublishStateChange(SurfacePicker, p.s.Path, state.String(), p.gen, false, false)
}
