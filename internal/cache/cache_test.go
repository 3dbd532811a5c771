package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

func newReadyCache(t *testing.T, opts ...Option) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clock), WithPurgeInterval(0)}, opts...)
	c := New(filepath.Join(t.TempDir(), "cache.db"), opts...)
	require.NoError(t, <-c.Init(context.Background()))
	require.True(t, c.Ready())
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func samplePayload(folders, files int) *models.DirectoryPayload {
	p := &models.DirectoryPayload{}
	for i := 0; i < folders; i++ {
		p.Folders = append(p.Folders, models.Folder{ID: "d" + string(rune('a'+i)), Name: "Folder " + string(rune('A'+i))})
	}
	for i := 0; i < files; i++ {
		p.Files = append(p.Files, models.File{ID: "f" + string(rune('a'+i)), Name: "file" + string(rune('a'+i)) + ".pdf", SizeBytes: int64(i * 10)})
	}
	return p
}

func TestNotReadyIsNoop(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()

	assert.False(t, c.Ready())
	c.SetDirectory(ctx, "/Reports", samplePayload(1, 1))
	_, ok := c.Directory(ctx, "/Reports")
	assert.False(t, ok, "reads before ready must be misses")
	assert.NoError(t, c.Clear(ctx))
	n, err := c.PurgeExpired(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
	_, err = c.Stats(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	assert.False(t, c.Ready())
	c.SetDirectory(ctx, "/", samplePayload(1, 0))
	_, ok := c.Directory(ctx, "/")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestSetGetDirectory(t *testing.T) {
	c, clock := newReadyCache(t)
	ctx := context.Background()

	c.SetDirectory(ctx, "/Reports/", samplePayload(5, 3))

	entry, ok := c.Directory(ctx, "Reports")
	require.True(t, ok, "normalized path must hit")
	assert.Equal(t, "/Reports", entry.Key)
	assert.Len(t, entry.Payload.Folders, 5)
	assert.Len(t, entry.Payload.Files, 3)
	assert.Equal(t, "Folder A", entry.Payload.Folders[0].Name)
	assert.True(t, entry.CachedAt.Equal(clock.Now()))
	assert.True(t, entry.ExpiresAt.Equal(clock.Now().Add(constants.CacheTTL)))
}

func TestTTLBoundary(t *testing.T) {
	m := metrics.New(nil)
	c, clock := newReadyCache(t, WithMetrics(m))
	ctx := context.Background()

	c.SetDirectory(ctx, "/Reports", samplePayload(1, 1))

	clock.Advance(constants.CacheTTL)
	_, ok := c.Directory(ctx, "/Reports")
	assert.True(t, ok, "entry must be retrievable at exactly t0+30m")

	clock.Advance(time.Nanosecond)
	_, ok = c.Directory(ctx, "/Reports")
	assert.False(t, ok, "entry must be absent strictly after t0+30m")

	// Evicted as a side effect: a later rewind would still find nothing
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Expired)
	assert.Zero(t, stats.Entries[NamespaceDirectory])
}

func TestOverwriteRestampsTTL(t *testing.T) {
	c, clock := newReadyCache(t)
	ctx := context.Background()

	c.SetDirectory(ctx, "/A", samplePayload(1, 0))
	clock.Advance(20 * time.Minute)
	c.SetDirectory(ctx, "/A", samplePayload(2, 0))
	clock.Advance(20 * time.Minute)

	entry, ok := c.Directory(ctx, "/A")
	require.True(t, ok, "second write restarts the TTL")
	assert.Len(t, entry.Payload.Folders, 2, "last set wins")
}

func TestNamespacesAreIndependent(t *testing.T) {
	c, _ := newReadyCache(t)
	ctx := context.Background()

	c.SetDirectory(ctx, "/budget", samplePayload(1, 0))
	c.SetSearch(ctx, "  Budget ", samplePayload(0, 2))

	dir, ok := c.Directory(ctx, "/budget")
	require.True(t, ok)
	assert.Len(t, dir.Payload.Folders, 1)

	search, ok := c.Search(ctx, "budget")
	require.True(t, ok, "query keys are trimmed and lowercased")
	assert.Len(t, search.Payload.Files, 2)

	require.NoError(t, c.Clear(ctx, NamespaceSearch))
	_, ok = c.Search(ctx, "budget")
	assert.False(t, ok)
	_, ok = c.Directory(ctx, "/budget")
	assert.True(t, ok, "clearing search must not touch directories")

	require.NoError(t, c.Clear(ctx))
	_, ok = c.Directory(ctx, "/budget")
	assert.False(t, ok)
}

func TestInvalidateAndHas(t *testing.T) {
	c, _ := newReadyCache(t)
	ctx := context.Background()

	c.SetDirectory(ctx, "/A", samplePayload(1, 0))
	assert.True(t, c.HasDirectory(ctx, "/A/"))
	c.InvalidateDirectory(ctx, "/A")
	assert.False(t, c.HasDirectory(ctx, "/A"))
}

func TestPurgeExpiredAndStats(t *testing.T) {
	c, clock := newReadyCache(t)
	ctx := context.Background()

	c.SetDirectory(ctx, "/old", samplePayload(1, 0))
	clock.Advance(20 * time.Minute)
	c.SetDirectory(ctx, "/new", samplePayload(1, 0))
	c.SetSearch(ctx, "q", samplePayload(0, 1))
	clock.Advance(15 * time.Minute)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries[NamespaceDirectory])
	assert.Equal(t, 1, stats.Entries[NamespaceSearch])
	assert.Equal(t, 1, stats.Expired)

	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Expired)
}

func TestJanitorPurgesInBackground(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	c := New(filepath.Join(t.TempDir(), "cache.db"),
		WithClock(clock), WithTTL(time.Minute), WithPurgeInterval(5*time.Minute))
	require.NoError(t, <-c.Init(context.Background()))
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	c.SetDirectory(ctx, "/stale", samplePayload(1, 0))

	require.Eventually(t, func() bool {
		clock.Advance(5 * time.Minute)
		stats, err := c.Stats(ctx)
		return err == nil && stats.Expired == 0 && stats.Entries[NamespaceDirectory] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsRecordHitsAndMisses(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := newReadyCache(t, WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	c.Directory(ctx, "/missing")
	c.SetDirectory(ctx, "/present", samplePayload(1, 0))
	c.Directory(ctx, "/present")

	expected := `
# HELP docbrowse_cache_lookups_total Persistent cache lookups by namespace and result
# TYPE docbrowse_cache_lookups_total counter
docbrowse_cache_lookups_total{namespace="dir",result="hit"} 1
docbrowse_cache_lookups_total{namespace="dir",result="miss"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docbrowse_cache_lookups_total"))
}

func TestInitIsIdempotent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cache.db"), WithPurgeInterval(0))
	first := c.Init(context.Background())
	second := c.Init(context.Background())
	assert.Equal(t, first, second)
	require.NoError(t, <-first)
	t.Cleanup(func() { c.Close() })
}

func TestInitFailureLeavesCacheDisabled(t *testing.T) {
	dir := t.TempDir()
	// A directory where the database file should be makes open fail
	c := New(dir, WithPurgeInterval(0))
	err := <-c.Init(context.Background())
	assert.Error(t, err)
	assert.False(t, c.Ready())

	c.SetDirectory(context.Background(), "/", samplePayload(1, 0))
	_, ok := c.Directory(context.Background(), "/")
	assert.False(t, ok)
}

func TestCloseRevertsToNoop(t *testing.T) {
	c, _ := newReadyCache(t)
	ctx := context.Background()
	c.SetDirectory(ctx, "/A", samplePayload(1, 0))

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	_, ok := c.Directory(ctx, "/A")
	assert.False(t, ok)
}

func TestInvalidateTree(t *testing.T) {
	c, _ := newReadyCache(t)
	ctx := context.Background()
	for _, p := range []string{"/Projects", "/Projects/2024", "/Projects/2024/Q1", "/Projects-old", "/Other"} {
		c.SetDirectory(ctx, p, samplePayload(0, 1))
	}

	c.InvalidateTree(ctx, "/Projects/")

	assert.False(t, c.HasDirectory(ctx, "/Projects"))
	assert.False(t, c.HasDirectory(ctx, "/Projects/2024"))
	assert.False(t, c.HasDirectory(ctx, "/Projects/2024/Q1"))
	assert.True(t, c.HasDirectory(ctx, "/Projects-old"), "siblings sharing a name prefix survive")
	assert.True(t, c.HasDirectory(ctx, "/Other"))

	c.InvalidateTree(ctx, "/")
	assert.False(t, c.HasDirectory(ctx, "/Other"))
}

func TestInvalidateTreeNonASCII(t *testing.T) {
	c, _ := newReadyCache(t)
	ctx := context.Background()
	for _, p := range []string{"/Berichte/Übersicht", "/Berichte/Übersicht/2024", "/Berichte/Übersicht/Straße/Q1", "/Berichte/Übersichten"} {
		c.SetDirectory(ctx, p, samplePayload(0, 1))
	}

	c.InvalidateTree(ctx, "/Berichte/Übersicht")

	if c.HasDirectory(ctx, "/Berichte/Übersicht/2024") {
		t.Error("Expected child of a non-ASCII folder to be evicted")
	}
	if c.HasDirectory(ctx, "/Berichte/Übersicht/Straße/Q1") {
		t.Error("Expected grandchild of a non-ASCII folder to be evicted")
	}
	assert.False(t, c.HasDirectory(ctx, "/Berichte/Übersicht"))
	assert.True(t, c.HasDirectory(ctx, "/Berichte/Übersichten"), "siblings sharing a name prefix survive")
}
