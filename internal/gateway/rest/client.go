// Package rest implements the gateway against the portal's SharePoint proxy API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/portalworks/docbrowse/internal/auth"
	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/gateway"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/models"
	"github.com/portalworks/docbrowse/internal/ratelimit"
)

// API routes relative to the base URL
const (
	routeList       = "/api/sharepoint/documents"
	routeSearch     = "/api/sharepoint/search"
	routeUpload     = "/api/sharepoint/upload"
	routeDelete     = "/api/sharepoint/delete"
	routeRename     = "/api/sharepoint/rename"
	routeMove       = "/api/sharepoint/move"
	routeFolders    = "/api/sharepoint/folders"
	routeSubfolders = "/api/sharepoint/subfolders"
)

// Error codes the API puts in the JSON error body
const (
	codeNotConfigured = "not_configured"
	codeNeedsAuth     = "needs_auth"
	codeNotFound      = "not_found"
	codeAccessDenied  = "access_denied"
)

const maxErrorBody = 4096

// Client is the REST gateway
type Client struct {
	retry   *retryablehttp.Client
	baseURL string
	siteURL string
	timeout time.Duration
	tokens  auth.TokenSource
	limiter *ratelimit.RateLimiter
	logger  *logging.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithLimiter replaces the default request limiter
func WithLimiter(l *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Component("rest") }
}

// New creates a REST gateway over base, which should come from http.NewClient
// so proxy and HTTP/2 settings apply
func New(cfg config.RESTConfig, base *nethttp.Client, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, gateway.NewError(gateway.KindNotConfigured, "connect", gateway.ErrNotConfigured)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid rest.base_url: %w", err)
	}
	if base == nil {
		base = &nethttp.Client{}
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		siteURL: cfg.SiteURL,
		timeout: cfg.Timeout,
		tokens:  tokens,
		limiter: ratelimit.NewRateLimiter(ratelimit.DefaultRatePerSec, ratelimit.DefaultBurst),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = auth.NewSource(cfg, nil, c.logger)
	}

	c.retry = dbhttp.NewRetryClient(base, cfg.RetryMax, c.logger)
	c.retry.ResponseLogHook = c.observeThrottle
	return c, nil
}

// Throttle reports the requests the limiter would admit right now and how
// long an upstream 429 keeps it paused.
func (c *Client) Throttle() (available float64, cooldown time.Duration) {
	return c.limiter.GetCurrentTokens(), c.limiter.CooldownRemaining()
}

// observeThrottle pauses the shared limiter when the upstream answers 429
func (c *Client) observeThrottle(_ retryablehttp.Logger, resp *nethttp.Response) {
	if resp.StatusCode != nethttp.StatusTooManyRequests {
		return
	}
	wait := time.Second
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	c.limiter.SetCooldown(wait)

	route := ""
	if resp.Request != nil {
		route = resp.Request.URL.Path
	}
	c.logger.Warn().Str("route", route).Dur("retry_after", wait).Msg("throttled by upstream")
}

// doRequest performs an authenticated, rate limited request. body is either
// nil, a JSON-marshalable value, or a retryablehttp.ReaderFunc for uploads.
func (c *Client) doRequest(ctx context.Context, op, method, route string, query url.Values, body interface{}, contentLength int64) (*nethttp.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody interface{}
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case retryablehttp.ReaderFunc:
		reqBody = b
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = data
	}

	u := c.baseURL + route
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.siteURL != "" {
		req.Header.Set("X-Site-Url", c.siteURL)
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		c.logger.Debug().Str("op", op).Str("method", method).Str("route", route).Err(err).Msg("request failed")
		return nil, &gateway.Error{Kind: gateway.Classify(err), Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// apiError is the JSON error body
type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// checkResponse turns a non-2xx response into a classified error
func checkResponse(op string, resp *nethttp.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	gerr := gateway.StatusError(op, resp.StatusCode, strings.TrimSpace(string(body)))

	var ae apiError
	if json.Unmarshal(body, &ae) == nil {
		msg := ae.Error
		if msg == "" {
			msg = ae.Message
		}
		if msg != "" {
			gerr.Err = errors.New(msg)
		}
		switch ae.Code {
		case codeNotConfigured:
			gerr.Kind = gateway.KindNotConfigured
		case codeNeedsAuth:
			gerr.Kind = gateway.KindNeedsAuth
		case codeNotFound:
			gerr.Kind = gateway.KindNotFound
		case codeAccessDenied:
			gerr.Kind = gateway.KindAccessDenied
		}
	}
	if gerr.Kind == gateway.KindUnknown && resp.StatusCode >= 500 {
		gerr.Kind = gateway.KindOperationFailed
	}
	return gerr
}

func decode(op string, resp *nethttp.Response, v interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return gateway.NewError(gateway.KindUnknown, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// List implements gateway.Gateway
func (c *Client) List(ctx context.Context, path string, force bool) (*models.Listing, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	q := url.Values{"path": {models.NormalizePath(path)}}
	if force {
		q.Set("refresh", "true")
	}
	resp, err := c.doRequest(ctx, "list", nethttp.MethodGet, routeList, q, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse("list", resp); err != nil {
		return nil, err
	}

	var listing models.Listing
	if err := decode("list", resp, &listing); err != nil {
		return nil, err
	}
	if listing.Folders == nil {
		listing.Folders = []models.Folder{}
	}
	if listing.Files == nil {
		listing.Files = []models.File{}
	}
	return &listing, nil
}

type searchResponse struct {
	Configured *bool `json:"configured"`
	NeedsAuth  bool  `json:"needsAuth"`
	models.DirectoryPayload
}

// Search implements gateway.Gateway
func (c *Client) Search(ctx context.Context, query string) (*models.DirectoryPayload, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doRequest(ctx, "search", nethttp.MethodGet, routeSearch, url.Values{"q": {strings.TrimSpace(query)}}, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse("search", resp); err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := decode("search", resp, &sr); err != nil {
		return nil, err
	}
	if sr.Configured != nil && !*sr.Configured {
		return nil, gateway.NewError(gateway.KindNotConfigured, "search", gateway.ErrNotConfigured)
	}
	if sr.NeedsAuth {
		return nil, gateway.NewError(gateway.KindNeedsAuth, "search", gateway.ErrNeedsAuth)
	}
	payload := sr.DirectoryPayload
	return &payload, nil
}

// Upload implements gateway.Gateway. Seekable readers are streamed and replayed
// on retry; other readers are buffered by the transport.
func (c *Client) Upload(ctx context.Context, path, name string, size int64, r io.Reader, onProgress gateway.ProgressFunc) error {
	pr := gateway.NewProgressReader(r, size, onProgress)

	var body retryablehttp.ReaderFunc
	if _, ok := r.(io.Seeker); ok {
		body = func() (io.Reader, error) {
			if _, err := pr.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return pr, nil
		}
	} else {
		data, err := io.ReadAll(pr)
		if err != nil {
			return gateway.NewError(gateway.KindOperationFailed, "upload", fmt.Errorf("failed to read %s: %w", name, err))
		}
		body = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	}

	q := url.Values{"path": {models.NormalizePath(path)}, "name": {name}}
	resp, err := c.doRequest(ctx, "upload", nethttp.MethodPut, routeUpload, q, body, size)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse("upload", resp); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// do posts a JSON command and discards the success body
func (c *Client) do(ctx context.Context, op, route string, body interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doRequest(ctx, op, nethttp.MethodPost, route, nil, body, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(op, resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type itemRequest struct {
	ItemID     string           `json:"itemId"`
	ItemType   models.EntryType `json:"itemType"`
	ParentPath string           `json:"parentPath,omitempty"`
	NewName    string           `json:"newName,omitempty"`
}

// Delete implements gateway.Gateway
func (c *Client) Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error {
	return c.do(ctx, "delete", routeDelete, itemRequest{ItemID: id, ItemType: t, ParentPath: parentPath})
}

// Rename implements gateway.Gateway
func (c *Client) Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error {
	return c.do(ctx, "rename", routeRename, itemRequest{ItemID: id, ItemType: t, ParentPath: parentPath, NewName: newName})
}

type moveRequest struct {
	ItemID          string            `json:"itemId"`
	DestinationPath string            `json:"destinationPath"`
	Operation       models.TransferOp `json:"operation"`
}

// MoveOrCopy implements gateway.Gateway
func (c *Client) MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error {
	if !op.Valid() {
		return gateway.NewError(gateway.KindValidation, "move_or_copy", fmt.Errorf("unknown operation %q", op))
	}
	return c.do(ctx, string(op), routeMove, moveRequest{ItemID: id, DestinationPath: models.NormalizePath(destPath), Operation: op})
}

type createFolderRequest struct {
	ParentPath string `json:"parentPath"`
	Name       string `json:"name"`
}

// CreateFolder implements gateway.Gateway
func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) error {
	return c.do(ctx, "create_folder", routeFolders, createFolderRequest{ParentPath: models.NormalizePath(parentPath), Name: name})
}

// BrowseSubfolders implements gateway.Gateway
func (c *Client) BrowseSubfolders(ctx context.Context, path string) ([]models.Folder, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doRequest(ctx, "browse_subfolders", nethttp.MethodGet, routeSubfolders, url.Values{"path": {models.NormalizePath(path)}}, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse("browse_subfolders", resp); err != nil {
		return nil, err
	}

	var out struct {
		Folders []models.Folder `json:"folders"`
	}
	if err := decode("browse_subfolders", resp, &out); err != nil {
		return nil, err
	}
	if out.Folders == nil {
		out.Folders = []models.Folder{}
	}
	return out.Folders, nil
}

var _ gateway.Gateway = (*Client)(nil)
