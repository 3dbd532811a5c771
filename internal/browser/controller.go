// Package browser implements the cache-first browsing controller, its
// background prefetcher, debounced search and the destination picker.
package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/listview"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

var (
	// ErrOperationPending is returned when navigation is attempted while a
	// file operation awaits confirmation, or when a second one is started.
	ErrOperationPending = errors.New("an operation is pending confirmation")

	// ErrInvalidBreadcrumb is returned for a breadcrumb index outside the trail
	ErrInvalidBreadcrumb = errors.New("breadcrumb index out of range")

	// ErrClosed is returned by a controller after Close
	ErrClosed = errors.New("controller closed")
)

// Surface names used in events and metrics
const (
	SurfaceMain   = "main"
	SurfacePicker = "picker"
)

// State is the loading state of a browsing surface
type State int

const (
	StateIdle State = iota
	StateLoadingCacheFirst
	StateCacheHitRevalidating
	StateCacheMissLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoadingCacheFirst:
		return "LoadingCacheFirst"
	case StateCacheHitRevalidating:
		return "CacheHitRevalidating"
	case StateCacheMissLoading:
		return "CacheMissLoading"
	case StateReady:
		return "Ready"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// NavigationGuard reports whether a modal operation blocks navigation
type NavigationGuard interface {
	HasPendingOperation() bool
}

// NavigationState is the navigational part of a snapshot
type NavigationState struct {
	CurrentPath  string
	History      []string
	SearchQuery  string
	SearchActive bool
}

// Breadcrumb is one element of the trail from the root to the current path
type Breadcrumb struct {
	Name string
	Path string
}

// RootCrumbName labels the first breadcrumb
const RootCrumbName = "Root"

// Snapshot is an immutable copy of what a surface renders.
// Payload pointers are shared and must not be mutated.
type Snapshot struct {
	NavigationState

	State     State
	ErrorKind gateway.Kind
	Err       error

	Directory *models.DirectoryPayload
	FromCache bool
	CachedAt  *time.Time
	SiteURL   string

	// RevalidateError is set when a background refresh failed and the cached view was kept
	RevalidateError error

	SearchResults *models.DirectoryPayload
	SearchLoading bool
	SearchError   error

	Page        int
	Generation  uint64
	Breadcrumbs []Breadcrumb
}

// View returns the payload currently rendered: search results while a search
// is active, otherwise the directory listing.
func (s Snapshot) View() *models.DirectoryPayload {
	if s.SearchActive {
		return s.SearchResults
	}
	return s.Directory
}

// Loading reports whether the rendered list is waiting for data
func (s Snapshot) Loading() bool {
	return s.State == StateLoadingCacheFirst || s.State == StateCacheMissLoading || s.SearchLoading
}

// PageCount returns the number of pages of the rendered list
func (s Snapshot) PageCount() int {
	return listview.PageCount(s.View().Total())
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock injects the clock that drives debounce and delayed navigation
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEventBus publishes state changes on bus
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithPrefetcher enables child folder prefetching
func WithPrefetcher(p *Prefetcher) Option {
	return func(c *Controller) { c.prefetch = p }
}

// WithGuard installs a navigation guard
func WithGuard(g NavigationGuard) Option {
	return func(c *Controller) { c.guard = g }
}

// Controller orchestrates cache-first directory loading for one surface
type Controller struct {
	gw       gateway.Gateway
	cache    *cache.Cache
	prefetch *Prefetcher
	bus      *events.EventBus
	clock    clockwork.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
	surface  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	guard     NavigationGuard
	s         Snapshot
	gen       uint64
	searchGen uint64
	debounce  clockwork.Timer
	backTimer clockwork.Timer
	subs      []chan Snapshot
	closed    bool
}

// New creates an idle controller positioned at the root. c may be nil or not
// yet ready, in which case every load goes to the gateway.
func New(gw gateway.Gateway, c *cache.Cache, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	ctl := &Controller{
		gw:      gw,
		cache:   c,
		clock:   clockwork.NewRealClock(),
		logger:  logging.Nop(),
		surface: SurfaceMain,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	ctl.logger = ctl.logger.Component("browser")
	ctl.s = Snapshot{
		NavigationState: NavigationState{CurrentPath: models.RootPath},
		Page:            1,
		Breadcrumbs:     breadcrumbs(models.RootPath),
	}
	return ctl
}

// SetGuard installs the navigation guard after construction
func (c *Controller) SetGuard(g NavigationGuard) {
	c.mu.Lock()
	c.guard = g
	c.mu.Unlock()
}

// Navigate loads path, pushing the current path onto the history
func (c *Controller) Navigate(ctx context.Context, path string) error {
	if err := c.checkGuard(); err != nil {
		return err
	}
	path = models.NormalizePath(path)

	c.mu.Lock()
	if path != c.s.CurrentPath {
		c.s.History = append(c.s.History, c.s.CurrentPath)
	}
	c.mu.Unlock()

	return c.load(ctx, path, false)
}

// Reload loads the current path again. force bypasses the cache.
func (c *Controller) Reload(ctx context.Context, force bool) error {
	if err := c.checkGuard(); err != nil {
		return err
	}
	return c.load(ctx, c.CurrentPath(), force)
}

// GoBack returns to the previous path. It is a no-op on empty history.
func (c *Controller) GoBack(ctx context.Context) error {
	if err := c.checkGuard(); err != nil {
		return err
	}

	c.mu.Lock()
	n := len(c.s.History)
	if n == 0 {
		c.mu.Unlock()
		return nil
	}
	prev := c.s.History[n-1]
	c.s.History = c.s.History[:n-1]
	c.mu.Unlock()

	return c.load(ctx, prev, false)
}

// GoToRoot clears the history and loads the root
func (c *Controller) GoToRoot(ctx context.Context) error {
	if err := c.checkGuard(); err != nil {
		return err
	}

	c.mu.Lock()
	c.s.History = nil
	c.mu.Unlock()

	return c.load(ctx, models.RootPath, false)
}

// NavigateBreadcrumb navigates to the i-th element of the breadcrumb trail
func (c *Controller) NavigateBreadcrumb(ctx context.Context, i int) error {
	c.mu.Lock()
	crumbs := c.s.Breadcrumbs
	c.mu.Unlock()

	if i < 0 || i >= len(crumbs) {
		return ErrInvalidBreadcrumb
	}
	return c.Navigate(ctx, crumbs[i].Path)
}

// CurrentPath returns the path being browsed
func (c *Controller) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.CurrentPath
}

// SetPage moves to page n, clamped to the page count
func (c *Controller) SetPage(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.Page = clampPage(n, c.s.PageCount())
	c.publishLocked()
}

// NextPage advances one page
func (c *Controller) NextPage() {
	c.mu.Lock()
	page := c.s.Page
	c.mu.Unlock()
	c.SetPage(page + 1)
}

// PrevPage goes back one page
func (c *Controller) PrevPage() {
	c.mu.Lock()
	page := c.s.Page
	c.mu.Unlock()
	c.SetPage(page - 1)
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving every new snapshot. When the reader
// lags only the latest snapshot is kept. The channel is closed by Close.
func (c *Controller) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Wait blocks until background fetches, pending timers and queued prefetches settle
func (c *Controller) Wait() {
	c.wg.Wait()
	c.prefetch.Wait()
}

// Close stops timers, drops in-flight results and closes subscriptions.
// The prefetcher and cache are owned by the caller.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.searchGen++
	c.stopTimersLocked()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) checkGuard() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.guard != nil && c.guard.HasPendingOperation() {
		return ErrOperationPending
	}
	return nil
}

// load runs the cache-first sequence for path under a new generation
func (c *Controller) load(ctx context.Context, path string, force bool) error {
	useCache := !force && c.cache.Ready()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stopTimersLocked()
	c.searchGen++
	c.resetLocked(path)
	if useCache {
		c.s.State = StateLoadingCacheFirst
	} else {
		c.s.State = StateCacheMissLoading
	}
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Debug().Str("path", path).Uint64("gen", gen).Bool("force", force).Msg("Loading directory")

	if useCache {
		if entry, ok := c.cache.Directory(ctx, path); ok {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return nil
			}
			c.s.State = StateCacheHitRevalidating
			c.s.Directory = &entry.Payload
			c.s.FromCache = true
			cachedAt := entry.CachedAt
			c.s.CachedAt = &cachedAt
			c.publishLocked()
			c.wg.Add(1)
			c.mu.Unlock()

			go c.revalidate(path, gen)
			return nil
		}

		c.mu.Lock()
		if gen == c.gen {
			c.s.State = StateCacheMissLoading
			c.publishLocked()
		}
		c.mu.Unlock()
	}

	listing, err := c.fetch(ctx, path, force)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.dropStale(path, gen)
		return nil
	}
	if err != nil {
		c.setErrorLocked(err)
		c.publishLocked()
		c.mu.Unlock()
		c.logger.Debug().Str("path", path).Err(err).Msg("Directory load failed")
		return err
	}
	c.applyListingLocked(listing)
	c.publishLocked()
	c.mu.Unlock()

	c.writeThrough(path, listing)
	return nil
}

// revalidate refreshes a cached view in the background
func (c *Controller) revalidate(path string, gen uint64) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, constants.HTTPRequestTimeout)
	defer cancel()

	listing, err := c.fetch(ctx, path, false)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.dropStale(path, gen)
		return
	}
	if err != nil {
		kind := stateKind(err)
		switch kind {
		case gateway.KindUnknown:
			c.s.State = StateReady
			c.s.RevalidateError = err
		default:
			c.setErrorLocked(err)
			if kind == gateway.KindNotFound && path != models.RootPath {
				c.scheduleBackLocked(path, gen)
			}
		}
		c.publishLocked()
		c.mu.Unlock()
		if kind == gateway.KindNotFound {
			c.cache.InvalidateDirectory(c.ctx, path)
		}
		c.logger.Debug().Str("path", path).Str("kind", kind.String()).Err(err).Msg("Revalidation failed")
		return
	}
	c.applyListingLocked(listing)
	c.publishLocked()
	c.mu.Unlock()

	c.writeThrough(path, listing)
}

func (c *Controller) fetch(ctx context.Context, path string, force bool) (*models.Listing, error) {
	listing, err := c.gw.List(ctx, path, force)
	if err == nil {
		err = gateway.ListingError(listing)
	}
	return listing, err
}

func (c *Controller) writeThrough(path string, listing *models.Listing) {
	c.cache.SetDirectory(c.ctx, path, listing.Payload())
	for _, f := range listing.Folders {
		c.prefetch.Enqueue(f.Path)
	}
}

func (c *Controller) dropStale(path string, gen uint64) {
	c.metrics.RecordStaleResponse(c.surface)
	c.logger.Debug().Str("path", path).Uint64("gen", gen).Msg("Dropped superseded listing")
}

// scheduleBackLocked navigates to the parent of a vanished folder after a delay
func (c *Controller) scheduleBackLocked(path string, gen uint64) {
	c.wg.Add(1)
	c.backTimer = c.clock.AfterFunc(constants.NotFoundBackDelay, func() {
		defer c.wg.Done()

		c.mu.Lock()
		current := gen == c.gen && !c.closed
		c.mu.Unlock()
		if !current {
			return
		}

		parent := models.ParentPath(path)
		if err := c.backTo(c.ctx, parent); err != nil {
			c.logger.Debug().Str("path", parent).Err(err).Msg("Automatic navigation to parent failed")
		}
	})
}

// backTo leaves a vanished folder for its parent. The vanished path is not
// recorded, and a history entry for the parent is consumed.
func (c *Controller) backTo(ctx context.Context, parent string) error {
	if err := c.checkGuard(); err != nil {
		return err
	}

	c.mu.Lock()
	if n := len(c.s.History); n > 0 && c.s.History[n-1] == parent {
		c.s.History = c.s.History[:n-1]
	}
	c.mu.Unlock()

	return c.load(ctx, parent, false)
}

func (c *Controller) stopTimersLocked() {
	if c.backTimer != nil && c.backTimer.Stop() {
		c.wg.Done()
	}
	c.backTimer = nil
	c.stopDebounceLocked()
}

func (c *Controller) stopDebounceLocked() {
	if c.debounce != nil && c.debounce.Stop() {
		c.wg.Done()
	}
	c.debounce = nil
}

// resetLocked clears per-path state when a new load starts
func (c *Controller) resetLocked(path string) {
	c.s.CurrentPath = path
	c.s.Breadcrumbs = breadcrumbs(path)
	c.s.Page = 1
	c.s.SearchQuery = ""
	c.s.SearchActive = false
	c.s.SearchResults = nil
	c.s.SearchLoading = false
	c.s.SearchError = nil
	c.s.Err = nil
	c.s.ErrorKind = gateway.KindUnknown
	c.s.RevalidateError = nil
	c.s.Directory = nil
	c.s.FromCache = false
	c.s.CachedAt = nil
}

func (c *Controller) applyListingLocked(listing *models.Listing) {
	c.s.State = StateReady
	c.s.Directory = listing.Payload()
	c.s.FromCache = false
	c.s.CachedAt = nil
	c.s.SiteURL = listing.SiteURL
	c.s.RevalidateError = nil
	c.s.Err = nil
	c.s.ErrorKind = gateway.KindUnknown
	c.s.Page = clampPage(c.s.Page, c.s.PageCount())
}

func (c *Controller) setErrorLocked(err error) {
	c.s.State = StateError
	c.s.ErrorKind = stateKind(err)
	c.s.Err = err
	c.s.Directory = nil
	c.s.FromCache = false
	c.s.CachedAt = nil
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.s
	s.Generation = c.gen
	s.History = append([]string(nil), c.s.History...)
	s.Breadcrumbs = append([]Breadcrumb(nil), c.s.Breadcrumbs...)
	return s
}

// publishLocked fans the current snapshot out to subscribers and the event bus
func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	if c.bus != nil {
		c.bus.PublishStateChange(c.surface, snap.CurrentPath, snap.State.String(), snap.Generation, snap.FromCache, snap.SearchActive)
	}
}

// stateKind narrows an error to the kinds a browsing surface distinguishes
func stateKind(err error) gateway.Kind {
	switch k := gateway.KindOf(err); k {
	case gateway.KindNotConfigured, gateway.KindNeedsAuth, gateway.KindNotFound, gateway.KindAccessDenied:
		return k
	default:
		return gateway.KindUnknown
	}
}

func breadcrumbs(path string) []Breadcrumb {
	crumbs := []Breadcrumb{{Name: RootCrumbName, Path: models.RootPath}}
	cur := models.RootPath
	for _, part := range models.SplitPath(path) {
		cur = models.JoinPath(cur, part)
		crumbs = append(crumbs, Breadcrumb{Name: part, Path: cur})
	}
	return crumbs
}

func clampPage(n, count int) int {
	if count < 1 {
		count = 1
	}
	if n < 1 {
		return 1
	}
	if n > count {
		return count
	}
	return n
}
