package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/logging"
)

// NewClient creates the HTTP client shared by every gateway backend.
//
// It starts from ConfigureHTTPClient for proxy handling, then tunes the transport
// for many small listing requests against one upstream host:
//   - HTTP/2 multiplexing when no proxy is in the path (DISABLE_HTTP2=true forces HTTP/1.1)
//   - compression left on, since listing payloads are JSON
//   - no client-level timeout; each call bounds itself through its context
func NewClient(proxy config.ProxyConfig, warmupURL string, logger *logging.Logger) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(proxy, warmupURL, logger)
	if err != nil {
		return nil, err
	}
	baseClient.Timeout = 0

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a Negotiator; leave it untouched
		return baseClient, nil
	}

	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	// Proxies often mishandle HTTP/2 streams. FORCE_HTTP2=true overrides.
	disable := os.Getenv("DISABLE_HTTP2") == "true" ||
		(proxyActive(proxy, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true")
	if disable {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	return baseClient, nil
}
