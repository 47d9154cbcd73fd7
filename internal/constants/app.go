package constants

import (
	"time"
)

// Event bus sizing
const (
	// EventBusDefaultBuffer - default buffer size for subscriber channels
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - cap for caller-requested buffer sizes
	EventBusMaxBuffer = 4096
)

// Upload limits
const (
	// DefaultMaxFileSize - largest file accepted into the queue (5 GiB).
	DefaultMaxFileSize = 5 * 1024 * 1024 * 1024

	// DefaultContentType - used when the extension gives no hint
	DefaultContentType = "application/octet-stream"

	// ProgressReportStep - minimum fraction between two progress events for one file
	ProgressReportStep = 0.01
)

// Storage backends
const (
	BackendDirect = "direct"
	BackendS3     = "s3"
	BackendAzure  = "azure"
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPRetryWaitMin / HTTPRetryWaitMax - backoff bounds when max_retries > 0
	HTTPRetryWaitMin = 1 * time.Second
	HTTPRetryWaitMax = 30 * time.Second
)

// Progress display
const (
	// ProgressRefreshRate - mpb redraw interval
	ProgressRefreshRate = 300 * time.Millisecond

	// ProgressBarWidth - mpb bar width in columns
	ProgressBarWidth = 100
)
