package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only send pings.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
