package browser

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

// ErrorSink receives prefetch failures. It is never shown to the user.
type ErrorSink func(path string, err error)

// Prefetcher warms the directory cache for likely next navigations with a
// bounded worker pool. Requests are dropped when the queue is full or the cache
// is not ready. Workers skip paths that are already cached.
type Prefetcher struct {
	gw      gateway.Gateway
	cache   *cache.Cache
	logger  *logging.Logger
	metrics *metrics.Metrics
	sink    ErrorSink

	queue   chan string
	group   singleflight.Group
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// PrefetchOption customizes a Prefetcher
type PrefetchOption func(*Prefetcher)

// WithErrorSink sets the failure callback
func WithErrorSink(sink ErrorSink) PrefetchOption {
	return func(p *Prefetcher) { p.sink = sink }
}

// WithPrefetchLogger sets the logger
func WithPrefetchLogger(l *logging.Logger) PrefetchOption {
	return func(p *Prefetcher) { p.logger = l.Component("prefetch") }
}

// WithPrefetchMetrics sets the metrics recorder
func WithPrefetchMetrics(m *metrics.Metrics) PrefetchOption {
	return func(p *Prefetcher) { p.metrics = m }
}

// NewPrefetcher starts workers goroutines. workers <= 0 uses the default.
func NewPrefetcher(gw gateway.Gateway, c *cache.Cache, workers int, opts ...PrefetchOption) *Prefetcher {
	if workers <= 0 {
		workers = constants.PrefetchWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Prefetcher{
		gw:     gw,
		cache:  c,
		logger: logging.Nop(),
		queue:  make(chan string, constants.PrefetchQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue schedules a background fetch of path and reports whether it was queued.
// It never touches the cache store, so callers can enqueue many paths cheaply.
func (p *Prefetcher) Enqueue(path string) bool {
	if p == nil {
		return false
	}
	path = models.NormalizePath(path)

	if !p.cache.Ready() {
		p.metrics.RecordPrefetch(metrics.PrefetchDropped)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	p.pending.Add(1)
	select {
	case p.queue <- path:
		return true
	default:
		p.pending.Done()
		p.metrics.RecordPrefetch(metrics.PrefetchDropped)
		p.logger.Debug().Str("path", path).Msg("prefetch queue full, dropping")
		return false
	}
}

func (p *Prefetcher) worker() {
	defer p.workers.Done()
	for path := range p.queue {
		p.fetch(path)
		p.pending.Done()
	}
}

// fetch lists path once even when several workers pick it up concurrently.
// Failures are reported by the worker that ran the request.
func (p *Prefetcher) fetch(path string) {
	_, _, _ = p.group.Do(path, func() (interface{}, error) {
		if p.cache.HasDirectory(p.ctx, path) {
			p.metrics.RecordPrefetch(metrics.PrefetchCached)
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(p.ctx, constants.PrefetchTimeout)
		defer cancel()

		listing, err := p.gw.List(ctx, path, false)
		if err == nil {
			err = gateway.ListingError(listing)
		}
		if err != nil {
			p.metrics.RecordPrefetch(metrics.PrefetchError)
			p.logger.Debug().Str("path", path).Err(err).Msg("prefetch failed")
			if p.sink != nil {
				p.sink(path, err)
			}
			return nil, err
		}

		p.cache.SetDirectory(ctx, path, listing.Payload())
		p.metrics.RecordPrefetch(metrics.PrefetchOK)
		p.logger.Debug().Str("path", path).Int("items", listing.Payload().Total()).Msg("prefetched")
		return nil, nil
	})
}

// Wait blocks until every queued request has been processed
func (p *Prefetcher) Wait() {
	if p == nil {
		return
	}
	p.pending.Wait()
}

// Close stops accepting requests, abandons in-flight fetches and waits for workers
func (p *Prefetcher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.cancel()
	p.workers.Wait()
}
