package gateway_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/gateway/gatewaytest"
	"github.com/portalworks/docbrowse/internal/metrics"
)

func TestInstrumentedRecordsOutcomes(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddFolder("/", "Reports")
	reg := prometheus.NewRegistry()
	g := gateway.Instrument(fake, metrics.New(reg), nil)

	ctx := context.Background()
	_, err := g.List(ctx, "/Reports", false)
	require.NoError(t, err)
	_, err = g.List(ctx, "/Missing", false)
	require.Error(t, err)

	expected := `
# HELP docbrowse_gateway_requests_total Remote directory gateway calls by operation and outcome
# TYPE docbrowse_gateway_requests_total counter
docbrowse_gateway_requests_total{op="list",outcome="NotFound"} 1
docbrowse_gateway_requests_total{op="list",outcome="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docbrowse_gateway_requests_total"))
	require.Len(t, fake.Calls(gatewaytest.OpList), 2)

	if g.Unwrap() != gateway.Gateway(fake) {
		t.Error("Expected Unwrap to return the wrapped gateway")
	}
}
