package constants

import (
	"time"
)

// Cache
const (
	// CacheTTL - fixed lifetime of every cache entry (30 minutes)
	// An entry read after cachedAt+CacheTTL is treated as absent and evicted
	CacheTTL = 30 * time.Minute

	// CachePurgeInterval - default interval for the expired-entry janitor (10 minutes)
	CachePurgeInterval = 10 * time.Minute

	// CacheBusyTimeout - sqlite busy timeout in milliseconds
	CacheBusyTimeout = 5000

	// CacheFileName - default database file name under the user cache dir
	CacheFileName = "docbrowse-cache.db"
)

// Listing presentation
const (
	// LargeListThreshold - combined item count above which browsing switches to
	// virtualized rendering (100). Exactly 100 items still paginate.
	LargeListThreshold = 100

	// PageSize - rows per page in paginated mode (50)
	PageSize = 50

	// RowHeight - estimated fixed row height used by the virtualized window (px)
	RowHeight = 44

	// DefaultViewportHeight - viewport height used when the caller has not measured one (px)
	DefaultViewportHeight = 600

	// Overscan - extra rows realized above and below the visible window
	Overscan = 8
)

// Browsing timings
const (
	// SearchDebounce - quiet period before a search query is executed (500ms)
	SearchDebounce = 500 * time.Millisecond

	// NotFoundBackDelay - delay before navigating to the parent after a folder
	// vanished during background revalidation (2 seconds)
	NotFoundBackDelay = 2 * time.Second

	// UploadDismissDelay - how long the upload completion summary stays visible (3 seconds)
	UploadDismissDelay = 3 * time.Second
)

// Prefetch
const (
	// PrefetchWorkers - concurrent background listing fetches (4)
	PrefetchWorkers = 4

	// PrefetchQueueSize - pending prefetch requests before new ones are dropped (256)
	PrefetchQueueSize = 256

	// PrefetchTimeout - upper bound on a single prefetch request (30 seconds)
	PrefetchTimeout = 30 * time.Second
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient gateway errors
	MaxRetries = 3

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (10s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 10 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (256)
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (4096)
	EventBusMaxBuffer = 4096
)

// HTTP Client Timeouts
const (
	// HTTPRequestTimeout - default end-to-end timeout for a gateway request (60 seconds)
	HTTPRequestTimeout = 60 * time.Second

	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPMaxIdleConnsPerHost - idle connection pool size per upstream host
	HTTPMaxIdleConnsPerHost = 16
)

// Token handling
const (
	// TokenExpiryLeeway - a token expiring within this window is treated as expired (30 seconds)
	TokenExpiryLeeway = 30 * time.Second
)

// Upload
const (
	// UploadProgressStep - minimum percent change before a progress callback fires
	UploadProgressStep = 1

	// MaxNameLength - longest accepted file or folder name in bytes
	MaxNameLength = 255
)

// Object store backends
const (
	// SearchMaxResults - matches returned by a prefix-scan search before it stops (500)
	SearchMaxResults = 500

	// FolderMarkerContentType - content type of the zero-byte object that marks an empty folder
	FolderMarkerContentType = "application/x-directory"

	// DeleteBatchSize - keys per bulk delete request (S3 accepts at most 1000)
	DeleteBatchSize = 1000
)
