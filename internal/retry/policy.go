// Package retry implements the backoff policy that governs every outbound
// call in the system: exponential backoff for transient network and HTTP
// failures, and cost-based delays for platform rate limiting.
package retry

import (
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
)

// Config tunes the retry policy
type Config struct {
	// MaxAttempts bounds how many retries follow the initial attempt
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initialDelay,omitempty"`

	// MaxDelay caps every computed delay, exponential or cost-based
	MaxDelay time.Duration `yaml:"maxDelay,omitempty"`

	// Multiplier is the exponential growth factor
	Multiplier float64 `yaml:"multiplier,omitempty"`

	// Jitter enables multiplying each exponential delay by a uniform
	// random factor in [0.5, 1.5]. Unset means enabled.
	Jitter *bool `yaml:"jitter,omitempty"`

	// RetryableNetworkErrors are substrings matched against error text for
	// network faults that net/syscall classification does not catch
	RetryableNetworkErrors []string `yaml:"retryableNetworkErrors,omitempty"`

	// RetryableStatusCodes are the HTTP statuses worth retrying
	RetryableStatusCodes []int `yaml:"retryableStatusCodes,omitempty"`
}

// DefaultConfig returns the retry tuning used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		Jitter:       boolPtr(true),
		RetryableNetworkErrors: []string{
			"connection reset",
			"connection refused",
			"no such host",
			"i/o timeout",
			"unexpected EOF",
			"TLS handshake timeout",
		},
		RetryableStatusCodes: []int{429, 499, 502, 503, 504},
	}
}

func boolPtr(b bool) *bool { return &b }

// Decision is the policy's verdict for one failed attempt
type Decision struct {
	// Retry reports whether the caller should try again
	Retry bool

	// Delay is how long to wait before the next attempt
	Delay time.Duration
}

// Context is the explicit per-call retry state. It is created per call,
// passed alongside each attempt and returned updated, and never persisted.
type Context struct {
	// Attempt is the 1-based number of the attempt that just failed
	Attempt int

	// ThrottleAttempt counts throttled responses that carried no cost
	// metadata; those fall back to the exponential path on this counter
	ThrottleAttempt int

	// LastErr is the error from the most recent attempt
	LastErr error
}

// Policy decides, for every outbound call, whether and how long to wait
// before retrying
//
//go:generate mockgen -destination=mocks/mock_policy.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/retry Policy
type Policy interface {
	// Decide classifies err and returns the retry verdict plus the updated
	// retry context. The caller is responsible for the actual wait and
	// re-invocation.
	Decide(err error, rctx Context) (Decision, Context)
}

// defaultPolicy is the default implementation of Policy
type defaultPolicy struct {
	cfg Config

	// randFloat is swappable for tests; returns uniform [0, 1)
	randFloat func() float64
}

// NewPolicy creates a retry policy from the given config, filling in
// defaults for zero values
func NewPolicy(cfg Config) Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter == nil {
		cfg.Jitter = def.Jitter
	}
	if cfg.RetryableNetworkErrors == nil {
		cfg.RetryableNetworkErrors = def.RetryableNetworkErrors
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = def.RetryableStatusCodes
	}
	return &defaultPolicy{cfg: cfg, randFloat: rand.Float64}
}

// Decide classifies err and returns the retry verdict plus updated context
func (p *defaultPolicy) Decide(err error, rctx Context) (Decision, Context) {
	rctx.Attempt++
	rctx.LastErr = err

	// Invalid credentials can never be fixed by waiting
	var credErr *httpclient.CredentialError
	if errors.As(err, &credErr) {
		return Decision{}, rctx
	}

	var throttled *httpclient.ThrottledError
	if errors.As(err, &throttled) {
		return p.decideThrottled(throttled, &rctx), rctx
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		if !p.isRetryableStatus(httpErr.StatusCode) {
			return Decision{}, rctx
		}
		return p.decideExponential(rctx.Attempt), rctx
	}

	if !p.isRetryableNetworkError(err) {
		return Decision{}, rctx
	}
	return p.decideExponential(rctx.Attempt), rctx
}

// decideThrottled handles the cost-based rate-limit path
func (p *defaultPolicy) decideThrottled(throttled *httpclient.ThrottledError, rctx *Context) Decision {
	cost := throttled.Cost
	if cost == nil || cost.RestoreRate <= 0 {
		// No usable cost metadata; fall back to exponential backoff on a
		// counter separate from the network attempt counter
		rctx.ThrottleAttempt++
		return p.decideExponential(rctx.ThrottleAttempt)
	}

	// A query costing more than the bucket holds can never succeed,
	// regardless of how long we wait
	if cost.Cost() > cost.MaximumAvailable {
		return Decision{}
	}

	shortfall := cost.Cost() - cost.CurrentlyAvailable
	if shortfall < 0 {
		shortfall = 0
	}

	// 50% safety buffer on top of the platform's restore estimate
	seconds := math.Ceil(shortfall/cost.RestoreRate) * 1.5
	delay := time.Duration(seconds * float64(time.Second))
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}

// decideExponential computes the bounded exponential delay for the given
// 1-based attempt number
func (p *defaultPolicy) decideExponential(attempt int) Decision {
	if attempt > p.cfg.MaxAttempts {
		return Decision{}
	}

	delay := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	if p.cfg.Jitter != nil && *p.cfg.Jitter {
		delay *= 0.5 + p.randFloat()
	}
	return Decision{Retry: true, Delay: time.Duration(delay)}
}

// isRetryableStatus reports whether the HTTP status is worth retrying
func (p *defaultPolicy) isRetryableStatus(statusCode int) bool {
	for _, code := range p.cfg.RetryableStatusCodes {
		if code == statusCode {
			return true
		}
	}
	return false
}

// isRetryableNetworkError reports whether err looks like a transient
// network fault, by type where possible and by message pattern otherwise
func (p *defaultPolicy) isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := err.Error()
	for _, pattern := range p.cfg.RetryableNetworkErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
