package log

import (
	"sync"
	"testing"

	gokitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLogger struct {
	mu    sync.Mutex
	count int
}

func (c *countingLogger) Log(keyvals ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *countingLogger) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestRateLimitedLogger_DropsExcessCallsWithinWindow(t *testing.T) {
	var next countingLogger
	rl := NewRateLimitedLogger(3, &next)

	for i := 0; i < 10; i++ {
		require.NoError(t, rl.Log("msg", "test"))
	}

	assert.Equal(t, 3, next.calls())
}

func TestRateLimitedLogger_PassesThroughUnderLimit(t *testing.T) {
	var next countingLogger
	rl := NewRateLimitedLogger(5, &next)

	for i := 0; i < 2; i++ {
		require.NoError(t, rl.Log("msg", "test"))
	}

	assert.Equal(t, 2, next.calls())
}

func TestRateLimitedLogger_WrapsARealGoKitLogger(t *testing.T) {
	rl := NewRateLimitedLogger(1, gokitlog.NewNopLogger())
	assert.NoError(t, rl.Log("msg", "still satisfies the log.Logger interface"))
}
