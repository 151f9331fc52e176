// Package constants holds tuning values shared across hfbackup packages.
package constants

import (
	"time"
)

// Application identity
const (
	// AppName is used for the binary name, config directory and User-Agent.
	AppName = "hfbackup"

	// DefaultHubEndpoint is the public Hugging Face Hub.
	DefaultHubEndpoint = "https://huggingface.co"

	// DefaultRevision is used when a download source names no branch/tag/commit.
	DefaultRevision = "main"

	// DefaultCommitMessage matches the message the desktop uploader used.
	DefaultCommitMessage = "Upload with Earth & Dusk Huggingface Backup"
)

// Queue defaults
const (
	// DefaultMaxConcurrency is the fallback when a queue's concurrency setting is
	// missing, non-positive or unparsable.
	DefaultMaxConcurrency = 1

	// DefaultRateLimitDelay is the fallback spacing between remote calls.
	DefaultRateLimitDelay = 1 * time.Second

	// MaxRateLimitDelay caps user-provided delays (a typo of 1000 should not stall
	// a backup for a quarter of an hour per call).
	MaxRateLimitDelay = 60 * time.Second

	// NotificationBuffer is the capacity of the worker -> manager channel.
	NotificationBuffer = 256

	// ShutdownGracePeriod is how long the CLI waits for cooperative cancellation
	// before abandoning running workers.
	ShutdownGracePeriod = 10 * time.Second
)

// Transfer tuning
const (
	// DownloadChunkSize is the fixed read size used when streaming remote files
	// to disk. Cancellation is observed between chunks.
	DownloadChunkSize = 8 * 1024

	// DiskSpaceSafetyMargin multiplies the expected download size before the
	// free-space check.
	DiskSpaceSafetyMargin = 1.05

	// UploadProgressInterval throttles upload progress notifications.
	UploadProgressInterval = 250 * time.Millisecond
)

// Event bus
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
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

	// HTTPRetryMax - retries performed by the retrying HTTP client (11 attempts total)
	HTTPRetryMax = 10

	// HTTPRetryWaitMin / HTTPRetryWaitMax bound the retry backoff
	HTTPRetryWaitMin = 1 * time.Second
	HTTPRetryWaitMax = 30 * time.Second

	// APIContextTimeout - timeout for small metadata calls (listing, repo create)
	APIContextTimeout = 30 * time.Second
)
