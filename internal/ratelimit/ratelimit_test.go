package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5, "dexscreener")

	require.NotNil(t, l)
	assert.Equal(t, "dexscreener", l.provider)
	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(300, "geckoterminal")
	assert.InDelta(t, 5.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 1, l.limiter.Burst())

	unlimited := PerMinute(0, "blockscout")
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, unlimited.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst, "test")
	ctx := context.Background()

	for i := 0; i < burst; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(ctx), "request %d should not error", i)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	l := NewLimiter(10, 1, "test") // 1 token every 100ms
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := NewLimiter(0.1, 1, "test") // 1 token every 10s
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_NilIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("dexscreener API status: 429"), "rate_limited"},
		{errors.New("status 503"), "server_error"},
		{errors.New("execution reverted"), "malformed"},
		{errors.New("decode geckoterminal: invalid character"), "malformed"},
		{errors.New("dial tcp: connection refused"), "network_error"},
		{errors.New("something else"), "client_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "err=%v", tt.err)
	}
}
