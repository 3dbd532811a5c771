package browser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/gateway/gatewaytest"
	"github.com/portalworks/docbrowse/internal/logging"
)

func TestPickerBrowse(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddFolder("/", "Archive")
	fake.AddFolder("/Archive", "2024")
	fake.AddFile("/", "readme.txt", 1)
	p := browser.NewPicker(fake, nil, logging.Nop(), nil)
	ctx := context.Background()

	require.NoError(t, p.Browse(ctx, "/"))
	snap := p.Snapshot()
	require.Len(t, snap.Folders, 1, "the picker lists folders only")
	assert.Equal(t, "Archive", snap.Folders[0].Name)
	assert.Equal(t, 1, snap.Folders[0].ChildCount)

	require.NoError(t, p.Enter(ctx, "Archive"))
	assert.Equal(t, "/Archive", p.Selected())
	assert.Len(t, p.Snapshot().Breadcrumbs, 2)

	require.NoError(t, p.Up(ctx))
	assert.Equal(t, "/", p.Selected())
}

func TestPickerError(t *testing.T) {
	fake := gatewaytest.New()
	p := browser.NewPicker(fake, nil, logging.Nop(), nil)

	err := p.Browse(context.Background(), "/Missing")
	require.Error(t, err)

	snap := p.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, gateway.KindNotFound, snap.ErrorKind)
}

func TestPickerLastIntentWins(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddFolder("/A", "Slow")
	fake.AddFolder("/B", "Fast")
	p := browser.NewPicker(fake, nil, logging.Nop(), nil)
	ctx := context.Background()

	release := fake.Block(gatewaytest.OpSubfolders, "/A")
	done := make(chan error, 1)
	go func() { done <- p.Browse(ctx, "/A") }()
	waitStarted(t, fake, gatewaytest.OpSubfolders, "/A")

	require.NoError(t, p.Browse(ctx, "/B"))
	release()
	require.NoError(t, <-done)

	snap := p.Snapshot()
	assert.Equal(t, "/B", snap.Path)
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, "Fast", snap.Folders[0].Name)
}

func TestPickerPublishesOnItsOwnSurface(t *testing.T) {
	fake := gatewaytest.New()
	bus := events.NewEventBus(16)
	defer bus.Close()
	ch := bus.Subscribe(events.EventStateChange)

	p := browser.NewPicker(fake, bus, logging.Nop(), nil)
	require.NoError(t, p.Browse(context.Background(), "/"))

	first := (<-ch).(*events.StateChangeEvent)
	second := (<-ch).(*events.StateChangeEvent)
	assert.Equal(t, browser.SurfacePicker, first.Surface)
	assert.Equal(t, browser.StateCacheMissLoading.String(), first.State)
	assert.Equal(t, browser.StateReady.String(), second.State)
}
