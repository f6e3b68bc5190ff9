package translate

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mgpai22/sublingo/internal/logging"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 5 * time.Second
	defaultMaxDelay    = 60 * time.Second
	defaultTimeout     = 120 * time.Second
)

// RetryPolicy bounds how often and how patiently a call is retried.
type RetryPolicy struct {
	// MaxAttempts counts every call, the first included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff is the wait before the attempt following attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Chunk is a streamed text fragment. Restart marks the first fragment of a
// retried attempt: everything received before it must be discarded.
type Chunk struct {
	Text    string
	Attempt int
	Restart bool
}

// Client adds retries, per-attempt timeouts, request pacing and duplicate
// suppression on top of a Backend. It is safe for concurrent use.
type Client struct {
	backend Backend
	policy  RetryPolicy
	timeout time.Duration
	limiter *rate.Limiter
	sleeper func(time.Duration)
	logger  *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customizes the client.
type Option func(*Client)

// WithRetryPolicy overrides the default 3 attempts with 5s doubling backoff.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRequestsPerMinute paces attempts across all callers of the client.
// Zero or less disables pacing.
func WithRequestsPerMinute(rpm int) Option {
	return func(c *Client) {
		c.limiter = newLimiter(rpm)
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		policy: RetryPolicy{
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
			MaxDelay:    defaultMaxDelay,
		},
		timeout:  defaultTimeout,
		limiter:  newLimiter(0),
		logger:   logging.NewNop(),
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Translate runs req to completion and returns the whole response text.
// key identifies the unit of work; a second call with a key that is still
// running fails with ErrInFlight.
func (c *Client) Translate(ctx context.Context, key string, req Request) (string, error) {
	release, err := c.acquire(key)
	if err != nil {
		return "", err
	}
	defer release()

	attempts := c.policy.attempts()
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		actx, cancel := context.WithTimeout(ctx, c.timeout)
		text, err := c.backend.Complete(actx, req)
		cancel()
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			return text, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		err = c.normalize(err)
		if !IsRetryable(err) || attempt >= attempts {
			return "", &TranslationFailure{Key: key, Attempts: attempt, Err: err}
		}
		if err := c.backoff(ctx, key, attempt, err); err != nil {
			return "", err
		}
	}
}

// Stream runs req and yields fragments as they arrive. A failed attempt is
// retried from scratch; the first fragment of the new attempt carries
// Restart. The sequence ends with at most one error. It can be iterated
// once.
func (c *Client) Stream(ctx context.Context, key string, req Request) iter.Seq2[Chunk, error] {
	var used atomic.Bool
	return func(yield func(Chunk, error) bool) {
		if used.Swap(true) {
			yield(Chunk{}, errStreamReused)
			return
		}

		release, err := c.acquire(key)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer release()

		attempts := c.policy.attempts()
		for attempt := 1; ; attempt++ {
			if err := c.limiter.Wait(ctx); err != nil {
				yield(Chunk{}, err)
				return
			}

			received, stopped, err := c.streamAttempt(ctx, req, attempt, yield)
			if stopped {
				return
			}
			if err == nil && !received {
				err = ErrEmptyResponse
			}
			if err == nil {
				return
			}

			if ctx.Err() != nil {
				yield(Chunk{}, ctx.Err())
				return
			}
			err = c.normalize(err)
			if !IsRetryable(err) || attempt >= attempts {
				yield(Chunk{}, &TranslationFailure{Key: key, Attempts: attempt, Err: err})
				return
			}
			if err := c.backoff(ctx, key, attempt, err); err != nil {
				yield(Chunk{}, err)
				return
			}
		}
	}
}

// runs one streaming attempt; stopped reports that the consumer quit
func (c *Client) streamAttempt(
	ctx context.Context,
	req Request,
	attempt int,
	yield func(Chunk, error) bool,
) (received, stopped bool, err error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	restart := attempt > 1
	for text, err := range c.backend.Stream(actx, req) {
		if err != nil {
			return received, false, err
		}
		if text == "" {
			continue
		}
		if strings.TrimSpace(text) != "" {
			received = true
		}
		if !yield(Chunk{Text: text, Attempt: attempt, Restart: restart}, nil) {
			return received, true, nil
		}
		restart = false
	}
	return received, false, nil
}

// turns a deadline on the attempt context into a TimeoutError; callers only
// get here while the parent context is still live
func (c *Client) normalize(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{After: c.timeout}
	}
	return err
}

func (c *Client) backoff(ctx context.Context, key string, attempt int, err error) error {
	delay := c.policy.Backoff(attempt)
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > delay {
		delay = rateErr.RetryAfter
		if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
	}

	c.logger.Warnw("Model call failed, retrying",
		"key", key,
		"attempt", attempt,
		"max_attempts", c.policy.attempts(),
		"delay", delay,
		"error", err,
	)
	return c.sleep(ctx, delay)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.sleeper != nil {
		c.sleeper(d)
		return ctx.Err()
	}
	return sleepWithContext(ctx, d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) acquire(key string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return nil, ErrInFlight
	}
	c.inFlight[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		c.mu.Unlock()
	}, nil
}
