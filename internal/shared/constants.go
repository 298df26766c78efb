package shared

import "time"

// HTTP Server Configuration
const (
	DefaultRequestTimeout  = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Minute
)

// Runner Configuration
const (
	DefaultBatchWindow  = 10 * time.Millisecond
	DefaultMaxBatchSize = 64
	DefaultQueueSize    = 256
	DefaultStreamBuffer = 8
)

// Audit Configuration
const (
	AuditFlushInterval = 1 * time.Minute
	AuditStatsCacheTTL = 30 * time.Minute
	MaxFlushRetries    = 3
)

// Rate Limit Configuration
const (
	DefaultRateLimitRPS   = 50
	DefaultRateLimitBurst = 100
	RateLimitIdleTTL      = 10 * time.Minute
)

// ScratchDirEnv names a writable directory used by lifecycle hooks to record
// observable side effects. Unset or missing path means skip.
const ScratchDirEnv = "MODELGATE_TEST_DATA"
