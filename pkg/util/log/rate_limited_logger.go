package log

import (
	"sync"
	"time"

	"github.com/go-kit/log"
)

// RateLimitedLogger wraps a go-kit logger and drops log lines once
// more than maxPerInterval have been emitted within the current
// one-second window. Used by pkg/ingest's kgoSource for poll-error
// logging, so a failing broker cannot flood the host log with one
// line per poll.
type RateLimitedLogger struct {
	next     log.Logger
	maxPerIv int

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimitedLogger returns a logger allowing at most maxPerInterval
// Log calls per one-second window; excess calls are silently dropped.
func NewRateLimitedLogger(maxPerInterval int, next log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		next:     next,
		maxPerIv: maxPerInterval,
	}
}

func (r *RateLimitedLogger) Log(keyvals ...interface{}) error {
	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.windowStart) >= time.Second {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	allowed := r.count <= r.maxPerIv
	r.mu.Unlock()

	if !allowed {
		return nil
	}
	return r.next.Log(keyvals...)
}
