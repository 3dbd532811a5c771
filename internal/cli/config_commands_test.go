package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/gateway/gatewaytest"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/models"
)

// TestConfigCommands checks the command group wiring
func TestConfigCommands(t *testing.T) {
	cmd := newConfigCmd()
	if cmd.Use != "config" {
		t.Errorf("Expected Use='config', got '%s'", cmd.Use)
	}

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
		if sub.Short == "" {
			t.Errorf("Expected a short description for %s", sub.Name())
		}
		if sub.RunE == nil {
			t.Errorf("Expected RunE for %s", sub.Name())
		}
	}
	for _, want := range []string{"show", "test", "path"} {
		if !names[want] {
			t.Errorf("Expected subcommand %s", want)
		}
	}
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	cfg := &config.Config{
		Backend: config.BackendS3,
		S3: config.S3Config{
			Bucket:          "docs",
			Region:          "eu-west-1",
			AccessKeyID:     "AKIAEXAMPLE",
			SecretAccessKey: "very-secret-value",
		},
		Proxy: config.ProxyConfig{Mode: "no-proxy"},
	}

	var buf bytes.Buffer
	printConfig(&buf, cfg)
	out := buf.String()

	assert.Contains(t, out, "Backend: s3")
	assert.Contains(t, out, "Bucket:     docs")
	assert.Contains(t, out, "Secret Key: <set (17 chars)>")
	assert.Contains(t, out, "Endpoint:   <not set>")
	assert.NotContains(t, out, "very-secret-value")
	assert.NotContains(t, out, "AKIAEXAMPLE")
}

func TestPrintConfigREST(t *testing.T) {
	cfg := &config.Config{
		Backend: config.BackendREST,
		REST:    config.RESTConfig{BaseURL: "https://docs.example.com/api", Token: "abc"},
		Cache:   config.CacheConfig{Disabled: true},
	}

	var buf bytes.Buffer
	printConfig(&buf, cfg)
	out := buf.String()

	assert.Contains(t, out, "Base URL:   https://docs.example.com/api")
	assert.Contains(t, out, "Token:      <set (3 chars)>")
	assert.Contains(t, out, "Cache Settings:\n  Disabled")
	assert.NotContains(t, out, "S3 Settings")
}

func TestTestConnection(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddFolder("/", "Projects")
	fake.AddFile("/", "readme.md", 10)

	var buf bytes.Buffer
	s := testSession(t, fake, &buf)
	require.NoError(t, testConnection(context.Background(), &buf, s))

	assert.Contains(t, buf.String(), "✓ Connected to rest backend (1 folders, 1 files at root")
	calls := fake.Calls(gatewaytest.OpList)
	require.Len(t, calls, 1)
	if !calls[0].Force {
		t.Error("Expected the connection test to bypass the cache")
	}
}

func TestTestConnectionReportsState(t *testing.T) {
	tests := []struct {
		name    string
		listing *models.Listing
		want    string
	}{
		{"not configured", &models.Listing{Configured: false}, "not configured"},
		{"needs auth", &models.Listing{Configured: true, NeedsAuth: true}, "Sign-in required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gatewaytest.New()
			fake.SetListing(models.RootPath, tt.listing)

			var buf bytes.Buffer
			s := testSession(t, fake, &buf)
			require.NoError(t, testConnection(context.Background(), &buf, s))
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Expected %q in output, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestTestConnectionWarnsMissingProxyPassword(t *testing.T) {
	var buf bytes.Buffer
	s := testSession(t, gatewaytest.New(), &buf)
	s.cfg.Proxy = config.ProxyConfig{Mode: "ntlm", Host: "proxy.corp", Port: 8080, User: "alice"}

	require.NoError(t, testConnection(context.Background(), &buf, s))
	assert.Contains(t, buf.String(), "! Proxy mode ntlm needs a password for user alice")

	buf.Reset()
	s.cfg.Proxy.Password = "pw"
	require.NoError(t, testConnection(context.Background(), &buf, s))
	assert.NotContains(t, buf.String(), "needs a password")
}

// pacedGateway reports a fixed limiter state
type pacedGateway struct {
	*gatewaytest.Fake
	available float64
	cooldown  time.Duration
}

func (g *pacedGateway) Throttle() (float64, time.Duration) { return g.available, g.cooldown }

func TestTestConnectionReportsThrottle(t *testing.T) {
	gw := &pacedGateway{Fake: gatewaytest.New(), available: 0, cooldown: 12 * time.Second}

	var buf bytes.Buffer
	cfg := &config.Config{Backend: config.BackendREST}
	s := newSession(cfg, gateway.Instrument(gw, nil, nil), nil, logging.Nop(), nil, &buf, sessionOptions{})
	t.Cleanup(s.Close)

	require.NoError(t, testConnection(context.Background(), &buf, s))
	out := buf.String()
	assert.Contains(t, out, "Rate limit: 0 requests available")
	assert.Contains(t, out, "Throttled by upstream, resuming in 12s")

	buf.Reset()
	plain := testSession(t, gatewaytest.New(), &buf)
	require.NoError(t, testConnection(context.Background(), &buf, plain))
	assert.NotContains(t, buf.String(), "Rate limit")
}

func TestConfigPathCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docbrowse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: rest\n"), 0o600))

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })

	var buf bytes.Buffer
	cmd := newConfigPathCmd()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.RunE(cmd, nil))

	assert.Contains(t, buf.String(), "from --config flag")
	assert.Contains(t, buf.String(), path)
	assert.Contains(t, buf.String(), "✓ File exists")
}
