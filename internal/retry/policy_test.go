package retry

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     60000 * time.Millisecond,
		Multiplier:   2,
		Jitter:       boolPtr(false),
	}
}

func TestPolicy_ExponentialDelays(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxAttempts = 20
	policy := NewPolicy(cfg)

	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		decision, rctx := policy.Decide(
			httpclient.NewHTTPError(503, "http://example.test", "unavailable"),
			Context{Attempt: attempt - 1},
		)
		require.True(t, decision.Retry, "attempt %d should retry", attempt)
		assert.Equal(t, expected[attempt-1], decision.Delay, "attempt %d", attempt)
		assert.Equal(t, attempt, rctx.Attempt)
	}

	// Deep attempt counts cap at MaxDelay
	decision, _ := policy.Decide(
		httpclient.NewHTTPError(503, "http://example.test", "unavailable"),
		Context{Attempt: 9},
	)
	require.True(t, decision.Retry)
	assert.Equal(t, 60000*time.Millisecond, decision.Delay)
}

func TestPolicy_Jitter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Jitter = boolPtr(true)
	policy := NewPolicy(cfg)

	base := 4000 * time.Millisecond // attempt 3 without jitter
	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		decision, _ := policy.Decide(
			httpclient.NewHTTPError(429, "http://example.test", "too many requests"),
			Context{Attempt: 2},
		)
		require.True(t, decision.Retry)
		assert.GreaterOrEqual(t, decision.Delay, base/2)
		assert.LessOrEqual(t, decision.Delay, base+base/2)
		seen[decision.Delay] = true
	}
	assert.Greater(t, len(seen), 1, "jittered delays should not be constant")
}

func TestPolicy_MaxAttemptsExhausted(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(testConfig())

	decision, _ := policy.Decide(
		httpclient.NewHTTPError(502, "http://example.test", "bad gateway"),
		Context{Attempt: 5},
	)
	assert.False(t, decision.Retry)
}

func TestPolicy_StatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		statusCode  int
		shouldRetry bool
	}{
		{429, true},
		{499, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{403, false},
		{404, false},
		{500, false},
	}

	policy := NewPolicy(testConfig())
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.statusCode), func(t *testing.T) {
			t.Parallel()

			decision, _ := policy.Decide(
				httpclient.NewHTTPError(tt.statusCode, "http://example.test", "error"),
				Context{},
			)
			assert.Equal(t, tt.shouldRetry, decision.Retry)
		})
	}
}

func TestPolicy_NetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		shouldRetry bool
	}{
		{
			name:        "connection reset by type",
			err:         fmt.Errorf("dial: %w", syscall.ECONNRESET),
			shouldRetry: true,
		},
		{
			name:        "connection refused by type",
			err:         fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
			shouldRetry: true,
		},
		{
			name:        "timeout by message",
			err:         errors.New("read tcp 10.0.0.1:443: i/o timeout"),
			shouldRetry: true,
		},
		{
			name:        "no such host by message",
			err:         errors.New("dial tcp: lookup api.example.test: no such host"),
			shouldRetry: true,
		},
		{
			name:        "unclassified error",
			err:         errors.New("invalid payload"),
			shouldRetry: false,
		},
	}

	policy := NewPolicy(testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision, _ := policy.Decide(tt.err, Context{})
			assert.Equal(t, tt.shouldRetry, decision.Retry)
		})
	}
}

func TestPolicy_ThrottleCostPath(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(testConfig())

	t.Run("delay from shortfall with safety buffer", func(t *testing.T) {
		t.Parallel()

		// shortfall = 600 - 100 = 500, restore 50/s -> ceil(10s) * 1.5 = 15s
		decision, _ := policy.Decide(&httpclient.ThrottledError{
			Cost: &httpclient.ThrottleCost{
				RequestedCost:      600,
				CurrentlyAvailable: 100,
				MaximumAvailable:   1000,
				RestoreRate:        50,
			},
		}, Context{})
		require.True(t, decision.Retry)
		assert.Equal(t, 15*time.Second, decision.Delay)
	})

	t.Run("actual cost preferred over requested", func(t *testing.T) {
		t.Parallel()

		// shortfall = 200 - 100 = 100, restore 50/s -> ceil(2s) * 1.5 = 3s
		decision, _ := policy.Decide(&httpclient.ThrottledError{
			Cost: &httpclient.ThrottleCost{
				RequestedCost:      600,
				ActualCost:         200,
				CurrentlyAvailable: 100,
				MaximumAvailable:   1000,
				RestoreRate:        50,
			},
		}, Context{})
		require.True(t, decision.Retry)
		assert.Equal(t, 3*time.Second, decision.Delay)
	})

	t.Run("no shortfall means no delay", func(t *testing.T) {
		t.Parallel()

		decision, _ := policy.Decide(&httpclient.ThrottledError{
			Cost: &httpclient.ThrottleCost{
				RequestedCost:      100,
				CurrentlyAvailable: 500,
				MaximumAvailable:   1000,
				RestoreRate:        50,
			},
		}, Context{})
		require.True(t, decision.Retry)
		assert.Equal(t, time.Duration(0), decision.Delay)
	})

	t.Run("cost exceeding maximum aborts", func(t *testing.T) {
		t.Parallel()

		decision, _ := policy.Decide(&httpclient.ThrottledError{
			Cost: &httpclient.ThrottleCost{
				RequestedCost:      2000,
				CurrentlyAvailable: 0,
				MaximumAvailable:   1000,
				RestoreRate:        50,
			},
		}, Context{})
		assert.False(t, decision.Retry)
	})

	t.Run("delay capped at max delay", func(t *testing.T) {
		t.Parallel()

		decision, _ := policy.Decide(&httpclient.ThrottledError{
			Cost: &httpclient.ThrottleCost{
				RequestedCost:      1000,
				CurrentlyAvailable: 0,
				MaximumAvailable:   1000,
				RestoreRate:        1,
			},
		}, Context{})
		require.True(t, decision.Retry)
		assert.Equal(t, 60*time.Second, decision.Delay)
	})

	t.Run("missing cost metadata uses separate throttle counter", func(t *testing.T) {
		t.Parallel()

		rctx := Context{Attempt: 3}
		decision, rctx := policy.Decide(&httpclient.ThrottledError{}, rctx)
		require.True(t, decision.Retry)
		// First throttle fallback: exponential from throttle attempt 1,
		// untouched by the network attempt counter
		assert.Equal(t, 1000*time.Millisecond, decision.Delay)
		assert.Equal(t, 1, rctx.ThrottleAttempt)
	})
}

func TestPolicy_CredentialErrorsNeverRetried(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(testConfig())

	decision, _ := policy.Decide(&httpclient.CredentialError{Message: "token revoked"}, Context{})
	assert.False(t, decision.Retry)
}
