package crazyflie

import (
	"time"

	"github.com/bitcraze/crazyflie-go/cache"
)

// Config carries the operational tuning knobs of a connection. The retry
// and queueing parameters are protocol tuning, not structure: the defaults
// work on a 2 Mbps radio link and there is rarely a reason to touch them
// outside of tests.
type Config struct {
	// ResponseTimeout bounds one request/response attempt.
	ResponseTimeout time.Duration
	// RetryCount is how many attempts an idempotent request gets before
	// ErrorNoResponse. Streaming data is never retried.
	RetryCount int

	// SendQueueSize bounds the shared outbound queue. Producers block when
	// it is full.
	SendQueueSize int
	// DataQueueSize bounds queues on high-rate ports (log data). Overflow
	// drops the oldest unread packet.
	DataQueueSize int
	// ControlQueueSize bounds queues on low-rate control ports, sized so
	// that overflow does not happen in practice.
	ControlQueueSize int

	// TocCache is the checksum-keyed TOC store. Defaults to a process-wide
	// in-memory cache; inject cache.Dir for persistence across runs or a
	// fresh cache.Memory to isolate a test.
	TocCache cache.Store
}

// process-wide default, shared by all connections so that reconnects skip
// the TOC fetch
var defaultTocCache = cache.NewMemory()

func DefaultConfig() Config {
	return Config{
		ResponseTimeout:  500 * time.Millisecond,
		RetryCount:       5,
		SendQueueSize:    32,
		DataQueueSize:    16,
		ControlQueueSize: 256,
		TocCache:         defaultTocCache,
	}
}
