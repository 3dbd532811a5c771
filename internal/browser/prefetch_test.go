package browser_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/cache"
	"github.com/portalworks/docbrowse/internal/gateway/gatewaytest"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

func TestPrefetcherFillsCache(t *testing.T) {
	fake := gatewaytest.New()
	addFiles(fake, "/Docs", 3)
	c := newCache(t)
	ctx := context.Background()

	p := browser.NewPrefetcher(fake, c, 2)
	defer p.Close()

	require.True(t, p.Enqueue("/Docs"))
	p.Wait()

	entry, ok := c.Directory(ctx, "/Docs")
	require.True(t, ok)
	assert.Len(t, entry.Payload.Files, 3)

	require.True(t, p.Enqueue("/Docs"))
	p.Wait()
	assert.Len(t, fake.Calls(gatewaytest.OpList), 1, "cached paths are not fetched again")
}

func TestPrefetcherChecksCacheInWorker(t *testing.T) {
	fake := gatewaytest.New()
	addFiles(fake, "/Docs", 1)
	c := newCache(t)
	c.SetDirectory(context.Background(), "/Docs", &models.DirectoryPayload{})
	reg := prometheus.NewRegistry()

	release := fake.Block(gatewaytest.OpList, "/Other")
	defer release()
	p := browser.NewPrefetcher(fake, c, 1, browser.WithPrefetchMetrics(metrics.New(reg)))
	defer p.Close()

	// With the only worker blocked, both requests are accepted without a cache read
	require.True(t, p.Enqueue("/Other"))
	waitStarted(t, fake, gatewaytest.OpList, "/Other")
	if !p.Enqueue("/Docs") {
		t.Error("Expected a cached path to be queued and skipped by the worker")
	}
	release()
	p.Wait()

	for _, call := range fake.Calls(gatewaytest.OpList) {
		if call.Path == "/Docs" {
			t.Errorf("Expected no upstream list for cached /Docs")
		}
	}
	expected := `
		# HELP docbrowse_prefetch_total Background subfolder prefetches by outcome
		# TYPE docbrowse_prefetch_total counter
		docbrowse_prefetch_total{outcome="cached"} 1
		docbrowse_prefetch_total{outcome="error"} 1
	`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docbrowse_prefetch_total"))
}

func TestPrefetcherErrorSink(t *testing.T) {
	fake := gatewaytest.New()
	fake.FailOn(gatewaytest.OpList, "/Broken", errors.New("connection reset by peer"))
	c := newCache(t)
	reg := prometheus.NewRegistry()

	var mu sync.Mutex
	var failed []string
	p := browser.NewPrefetcher(fake, c, 1,
		browser.WithPrefetchMetrics(metrics.New(reg)),
		browser.WithErrorSink(func(path string, err error) {
			mu.Lock()
			failed = append(failed, path)
			mu.Unlock()
		}),
	)
	defer p.Close()

	p.Enqueue("/Broken")
	p.Wait()

	mu.Lock()
	assert.Equal(t, []string{"/Broken"}, failed)
	mu.Unlock()
	assert.False(t, c.HasDirectory(context.Background(), "/Broken"))

	expected := `
		# HELP docbrowse_prefetch_total Background subfolder prefetches by outcome
		# TYPE docbrowse_prefetch_total counter
		docbrowse_prefetch_total{outcome="error"} 1
	`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docbrowse_prefetch_total"))
}

func TestPrefetcherSkipsWarningListings(t *testing.T) {
	fake := gatewaytest.New()
	fake.SetListing("/Secret", &models.Listing{Configured: true, Warning: models.WarningAccessDenied})
	c := newCache(t)

	p := browser.NewPrefetcher(fake, c, 1)
	defer p.Close()

	p.Enqueue("/Secret")
	p.Wait()
	assert.False(t, c.HasDirectory(context.Background(), "/Secret"))
}

func TestPrefetcherDropsWhenCacheNotReady(t *testing.T) {
	fake := gatewaytest.New()
	c := cache.New(filepath.Join(t.TempDir(), "cache.db"))

	p := browser.NewPrefetcher(fake, c, 1)
	defer p.Close()

	assert.False(t, p.Enqueue("/Docs"))
	p.Wait()
	assert.Empty(t, fake.Calls(gatewaytest.OpList))
}

func TestPrefetcherCoalescesConcurrentRequests(t *testing.T) {
	fake := gatewaytest.New()
	addFiles(fake, "/Docs", 1)
	c := newCache(t)

	release := fake.Block(gatewaytest.OpList, "/Docs")
	p := browser.NewPrefetcher(fake, c, 4)
	defer p.Close()

	require.True(t, p.Enqueue("/Docs"))
	waitStarted(t, fake, gatewaytest.OpList, "/Docs")
	p.Enqueue("/Docs")
	p.Enqueue("/Docs")
	release()
	p.Wait()

	assert.Len(t, fake.Calls(gatewaytest.OpList), 1)
}

func TestPrefetcherClosedRejects(t *testing.T) {
	fake := gatewaytest.New()
	c := newCache(t)
	p := browser.NewPrefetcher(fake, c, 1)
	p.Close()
	p.Close()

	assert.False(t, p.Enqueue("/Docs"))

	var nilPrefetcher *browser.Prefetcher
	assert.False(t, nilPrefetcher.Enqueue("/Docs"))
	nilPrefetcher.Wait()
}
