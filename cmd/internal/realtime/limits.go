package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max reply text length (runes).
	maxMessageChars = 4000
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	wsMaxPingFailures = 3

	writeTimeout = 5 * time.Second

	// Outbound reply rate limit (events per window) per connection.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second

	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
	backoffFactor  = 2.0
	backoffJitter  = 0.2
	stableAfter    = 10 * time.Second

	// Router defaults.
	dedupWindow = 1024
	eventLogCap = 512
)
