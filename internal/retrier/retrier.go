// Package retrier decides whether item-level errors are worth retrying and
// how long to wait before the next attempt. Retry state is tracked per item
// so the per-item HTTP call bound holds across throttled passes.
package retrier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
)

// Backoff defaults when the configuration supplies none.
const (
	DefaultMaxAttempts = 5
	DefaultMinTimeout  = 1 * time.Second
	DefaultMaxTimeout  = 60 * time.Second
	DefaultFactor      = 2.0
)

// Options configure the backoff computation.
type Options struct {
	// MaxAttempts caps the number of HTTP calls per item, first attempt
	// included.
	MaxAttempts int

	MinTimeout time.Duration
	MaxTimeout time.Duration

	// Factor is the exponential growth base; 0 disables growth entirely.
	Factor float64

	// Randomize multiplies the delay by a factor in [1,2).
	Randomize bool

	// StatusCodes are extra retriable HTTP status codes for this service.
	StatusCodes []int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if o.MinTimeout <= 0 {
		o.MinTimeout = DefaultMinTimeout
	}

	if o.MaxTimeout <= 0 {
		o.MaxTimeout = DefaultMaxTimeout
	}

	return o
}

// Controller tracks per-item attempt counts and computes delays. Keys are
// item names or paths; the same controller is shared by a flow's main pass
// and its retry passes.
type Controller struct {
	opts Options

	mu       stdsync.Mutex
	attempts map[string]int

	// randFunc returns the randomization factor in [1,2).
	// Tests override this for determinism.
	randFunc func() float64
}

// New creates a controller.
func New(opts Options) *Controller {
	return &Controller{
		opts:     opts.withDefaults(),
		attempts: make(map[string]int),
		randFunc: func() float64 { return 1 + rand.Float64() },
	}
}

// MaxAttempts returns the per-item call cap.
func (c *Controller) MaxAttempts() int { return c.opts.MaxAttempts }

// Next records a failure for the keyed item and reports whether another
// attempt is allowed, together with the delay to wait first. The attempt
// count increments only when a retry is granted.
func (c *Controller) Next(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempt := c.attempts[key] + 1
	if attempt >= c.opts.MaxAttempts {
		return 0, false
	}

	c.attempts[key] = attempt

	return c.delay(attempt), true
}

// Attempts returns the retries granted so far for the keyed item.
func (c *Controller) Attempts(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.attempts[key]
}

// Clear forgets the keyed item (after success or terminal failure).
func (c *Controller) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.attempts, key)
}

// delay computes min(maxTimeout, minTimeout * factor^(attempt-1) * rand),
// with rand in [1,2) when randomization is enabled. A zero factor disables
// exponential growth and yields the minimum timeout on every attempt.
func (c *Controller) delay(attempt int) time.Duration {
	d := float64(c.opts.MinTimeout)

	if c.opts.Factor > 0 {
		d *= math.Pow(c.opts.Factor, float64(attempt-1))
	}

	if c.opts.Randomize {
		d *= c.randFunc()
	}

	if d > float64(c.opts.MaxTimeout) {
		d = float64(c.opts.MaxTimeout)
	}

	return time.Duration(d)
}

// Wait sleeps for d or until the context is cancelled.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryablePush reports whether a push failure for the given artifact type
// is transient. The retriable set is the union of network errors, the
// shared HTTP status list, per-service extra status codes, and the
// type-specific 400 reference codes.
func RetryablePush(desc artifact.Descriptor, opts Options, err error) bool {
	if isNetworkError(err) {
		return true
	}

	apiErr := hub.AsAPIError(err)
	if apiErr == nil {
		return false
	}

	switch apiErr.StatusCode {
	case http.StatusForbidden:
		// Tier restrictions are permanent; everything else behind a 403
		// (gateway hiccups, auth propagation) is worth retrying.
		return !apiErr.HasCode(hub.CodeTierNotAllowed)
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusBadRequest:
		if apiErr.HasCodeInRange(hub.CodeReferenceRangeLo, hub.CodeReferenceRangeHi) {
			return true
		}

		for _, code := range desc.RetryPushCodes {
			if apiErr.HasCode(code) {
				return true
			}
		}

		return false
	}

	for _, code := range opts.StatusCodes {
		if apiErr.StatusCode == code {
			return true
		}
	}

	return false
}

// RetryableDelete reports whether a delete failure is a reference violation
// that may clear once other deletes in the same batch land.
func RetryableDelete(err error) bool {
	apiErr := hub.AsAPIError(err)
	if apiErr == nil {
		return false
	}

	if apiErr.StatusCode != http.StatusBadRequest {
		return false
	}

	return apiErr.HasCode(hub.CodeDeleteReferenced) ||
		apiErr.HasCodeInRange(hub.CodeReferenceRangeLo, hub.CodeReferenceRangeHi)
}

// isNetworkError reports whether err is a transport-level failure
// (connection reset, timeout, DNS) rather than an HTTP response.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
