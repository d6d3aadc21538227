package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	delays map[string][]time.Duration
}

func (o *recordingObserver) ObserveRateLimitDelay(site string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.delays == nil {
		o.delays = make(map[string][]time.Duration)
	}
	o.delays[site] = append(o.delays[site], d)
}

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	// 10 requests per second = one token every 100ms.
	l := New(Config{RequestsPerSecond: 10, Burst: 1, Observer: obs})
	require.True(t, l.Enabled())
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.delays["test.com"], 1)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	assert.False(t, l.Enabled())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "https://example.com"))
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://example.com"))
}
