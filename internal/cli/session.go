package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/portalworks/docbrowse/internal/auth"
	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/fileops"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/gateway/azure"
	"github.com/portalworks/docbrowse/internal/gateway/rest"
	s3gw "github.com/portalworks/docbrowse/internal/gateway/s3"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/progress"
)

// session holds one wired browsing core: gateway, cache, controller and
// operation pipeline sharing a metrics registry and an event bus.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *events.EventBus
	cache   *cache.Cache
	gw      gateway.Gateway

	prefetch *browser.Prefetcher
	ctl      *browser.Controller
	pipe     *fileops.Pipeline
	picker   *browser.Picker

	notes    <-chan events.Event
	traced   chan struct{}
	sub      <-chan browser.Snapshot
	out      io.Writer
	progress bool
}

// sessionOptions are the injectable parts of a session
type sessionOptions struct {
	clock       clockwork.Clock
	prefetch    bool
	progress    bool
	traceEvents bool
}

// loadConfig reads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if noCache {
		cfg.Cache.Disabled = true
	}
	return cfg, nil
}

// openSession loads configuration and builds the gateway for the configured
// backend. A missing backend configuration is reported as NotConfigured.
func openSession(ctx context.Context, out io.Writer, prefetch bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logging.NewLogger(logging.Options{
		Console:   os.Stderr,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
	} else {
		logging.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			return nil, gateway.NewError(gateway.KindNotConfigured, "connect", err)
		}
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	gw, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var c *cache.Cache
	if !cfg.Cache.Disabled {
		c = cache.New(cfg.Cache.Path,
			cache.WithPurgeInterval(cfg.Cache.PurgeInterval),
			cache.WithLogger(log),
			cache.WithMetrics(m),
		)
		// Failure leaves the cache a no-op; browsing goes to the gateway.
		if err := <-c.Init(ctx); err != nil {
			log.Warn().Err(err).Str("path", cfg.Cache.Path).Msg("Cache unavailable, continuing without it")
		}
	}

	s := newSession(cfg, gateway.Instrument(gw, m, log), c, log, m, out, sessionOptions{
		clock:       clockwork.NewRealClock(),
		prefetch:    prefetch,
		progress:    true,
		traceEvents: zerolog.GlobalLevel() <= zerolog.DebugLevel,
	})
	return s, nil
}

// buildGateway creates the backend client selected by cfg.Backend.
func buildGateway(ctx context.Context, cfg *config.Config, log *logging.Logger) (gateway.Gateway, error) {
	warmup := ""
	if cfg.Proxy.Warmup {
		warmup = cfg.REST.BaseURL
	}
	httpClient, err := dbhttp.NewClient(cfg.Proxy, warmup, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	switch cfg.Backend {
	case config.BackendREST:
		tokens := auth.NewSource(cfg.REST, clockwork.NewRealClock(), log)
		return rest.New(cfg.REST, httpClient, tokens, rest.WithLogger(log))
	case config.BackendS3:
		return s3gw.New(ctx, cfg.S3, httpClient, log)
	case config.BackendAzure:
		return azure.New(cfg.Azure, httpClient, log)
	default:
		return nil, fmt.Errorf("unsupported backend: %q", cfg.Backend)
	}
}

// newSession wires the browsing core around gw. c may be nil.
func newSession(cfg *config.Config, gw gateway.Gateway, c *cache.Cache, log *logging.Logger, m *metrics.Metrics, out io.Writer, opts sessionOptions) *session {
	if opts.clock == nil {
		opts.clock = clockwork.NewRealClock()
	}
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)

	s := &session{
		cfg:      cfg,
		logger:   log,
		metrics:  m,
		bus:      bus,
		cache:    c,
		gw:       gw,
		notes:    bus.Subscribe(events.EventNotify),
		out:      out,
		progress: opts.progress,
	}

	if opts.traceEvents {
		s.traced = make(chan struct{})
		go s.traceEvents(bus.SubscribeAll())
	}

	if opts.prefetch {
		s.prefetch = browser.NewPrefetcher(gw, c, constants.PrefetchWorkers,
			browser.WithPrefetchLogger(log),
			browser.WithPrefetchMetrics(m),
			browser.WithErrorSink(func(path string, err error) {
				log.Debug().Str("path", path).Err(err).Msg("Prefetch failed")
			}),
		)
	}

	s.ctl = browser.New(gw, c,
		browser.WithClock(opts.clock),
		browser.WithLogger(log),
		browser.WithMetrics(m),
		browser.WithEventBus(bus),
		browser.WithPrefetcher(s.prefetch),
	)
	s.pipe = fileops.New(gw, s.ctl,
		fileops.WithCache(c),
		fileops.WithEventBus(bus),
		fileops.WithClock(opts.clock),
		fileops.WithLogger(log),
		fileops.WithMetrics(m),
	)
	s.ctl.SetGuard(s.pipe)
	s.picker = browser.NewPicker(gw, bus, log, m)
	return s
}

// traceEvents logs every bus event at debug level until the bus closes
func (s *session) traceEvents(all <-chan events.Event) {
	defer close(s.traced)
	for e := range all {
		s.logger.Debug().Str("event", string(e.Type())).Msg("Event")
	}
}

// flushNotifications prints operation notifications published so far
func (s *session) flushNotifications() {
	for {
		select {
		case e, ok := <-s.notes:
			if !ok {
				return
			}
			printNotification(s.out, e.(*events.NotificationEvent))
		default:
			return
		}
	}
}

func printNotification(w io.Writer, n *events.NotificationEvent) {
	switch n.Level {
	case events.NotifySuccess:
		fmt.Fprintf(w, "✓ %s\n", n.Message)
	case events.NotifyWarn:
		fmt.Fprintf(w, "! %s\n", n.Message)
	case events.NotifyError:
		fmt.Fprintf(w, "✗ %s\n", n.Message)
	default:
		fmt.Fprintf(w, "%s\n", n.Message)
	}
}

// upload runs a batch with progress bars on stderr when enabled
func (s *session) upload(ctx context.Context, target string, files []fileops.UploadSource) error {
	if s.progress {
		ui := progress.NewUploadUI()
		detach := ui.Attach(s.bus)
		prev := s.logger.Output()
		s.logger.SetOutput(ui.Writer())
		defer func() {
			detach()
			ui.Wait()
			s.logger.SetOutput(prev)
		}()
	}

	_, err := s.pipe.Upload(ctx, target, files)
	return err
}

// Close releases the session in dependency order
func (s *session) Close() {
	s.pipe.Close()
	s.ctl.Close()
	s.prefetch.Close()
	s.flushNotifications()
	s.bus.Close()
	if s.traced != nil {
		<-s.traced
	}
	if err := s.cache.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Cache close failed")
	}
	_ = s.logger.Close()
}
