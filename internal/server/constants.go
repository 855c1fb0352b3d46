// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound message rate limiting
	RateLimitMessages = 30          // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Broadcast writes that cannot complete in this window are abandoned so
	// one stalled client never backs up the event stream.
	BroadcastTimeout = 5 * time.Second
)
