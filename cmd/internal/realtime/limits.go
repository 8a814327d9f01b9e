package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read. Clients only send small control
	// envelopes.
	maxFrameBytes = 8 << 10 // 8 KiB
)

const (
	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
