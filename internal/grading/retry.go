package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/noah-isme/gradeflow-api/internal/observability"
	"github.com/noah-isme/gradeflow-api/pkg/ai"
)

// ErrProviderExhausted signals the circuit breaker tripped: the provider has
// rate limited too many consecutive calls and no new work should be sent its
// way. In-flight submissions are allowed to finish.
var ErrProviderExhausted = errors.New("grading provider exhausted")

// ErrorClass partitions provider failures by how the caller should react.
type ErrorClass string

const (
	// ClassRateLimited means the provider asked us to slow down. Retried with
	// backoff, honouring an explicit provider delay when one is present.
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassTransient covers network errors, timeouts and 5xx answers. Retried
	// with backoff on an attempt counter independent from rate limits.
	ClassTransient ErrorClass = "transient"
	// ClassMalformed means the provider answered but the payload failed the
	// score schema. Never backed off; the agent decides whether to reformulate.
	ClassMalformed ErrorClass = "malformed"
	// ClassFatal covers rejected credentials and other errors retrying cannot fix.
	ClassFatal ErrorClass = "fatal"
)

// ClassifiedError wraps a provider failure with its class and, for rate
// limits, the delay the provider suggested.
type ClassifiedError struct {
	Class      ErrorClass
	RetryAfter *time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// retryDelayPattern matches the delay some providers embed in rate-limit
// error text, e.g. "retry_delay { seconds: 45 }".
var retryDelayPattern = regexp.MustCompile(`retry_delay\s*\{\s*seconds:\s*(\d+)\s*\}`)

// ParseRetryDelay extracts an explicit retry delay from provider error text.
// Absence of a match is the normal case, not an error.
func ParseRetryDelay(message string) (time.Duration, bool) {
	match := retryDelayPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}

	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}

	return time.Duration(seconds) * time.Second, true
}

// Classify maps an arbitrary provider error onto an ErrorClass. Unrecognised
// failures are treated as transient so they stay bounded by the retry budget.
func Classify(err error) *ClassifiedError {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, ai.ErrMalformedResponse) {
		return &ClassifiedError{Class: ClassMalformed, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			ce := &ClassifiedError{Class: ClassRateLimited, Err: err}
			if delay, ok := ParseRetryDelay(apiErr.Message); ok {
				ce.RetryAfter = &delay
			}
			return ce
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &ClassifiedError{Class: ClassFatal, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &ClassifiedError{Class: ClassTransient, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Class: ClassTransient, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Class: ClassTransient, Err: err}
	}

	// Some providers only surface the rate limit in free text.
	if delay, ok := ParseRetryDelay(err.Error()); ok {
		return &ClassifiedError{Class: ClassRateLimited, RetryAfter: &delay, Err: err}
	}

	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// RetryState is the one piece of mutable state shared by every concurrent
// provider call for a given provider. It feeds the circuit breaker.
type RetryState struct {
	mu                    sync.Mutex
	consecutiveRateLimits int
	lastRequest           time.Time
}

// NewRetryState constructs a fresh per-provider state.
func NewRetryState() *RetryState {
	return &RetryState{}
}

// RecordRateLimit bumps the consecutive rate-limit counter and returns the new value.
func (s *RetryState) RecordRateLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveRateLimits++
	s.lastRequest = time.Now()
	return s.consecutiveRateLimits
}

// RecordSuccess resets the consecutive rate-limit counter.
func (s *RetryState) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveRateLimits = 0
	s.lastRequest = time.Now()
}

// ConsecutiveRateLimits returns the current consecutive rate-limit count.
func (s *RetryState) ConsecutiveRateLimits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveRateLimits
}

// Exhausted reports whether the breaker threshold has been reached.
func (s *RetryState) Exhausted(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return s.ConsecutiveRateLimits() >= threshold
}

// RetryConfig tunes the retry controller.
type RetryConfig struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 120 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	return c
}

// RetryController wraps a single provider call with classification, bounded
// backoff and the shared circuit breaker. It never panics past its boundary:
// exhausted retries come back as a terminal ClassifiedError.
type RetryController struct {
	state  *RetryState
	cfg    RetryConfig
	logger zerolog.Logger

	// sleep and jitter are injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewRetryController constructs a controller sharing the given per-provider state.
func NewRetryController(state *RetryState, cfg RetryConfig, logger zerolog.Logger) *RetryController {
	if state == nil {
		state = NewRetryState()
	}

	return &RetryController{
		state:  state,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "retry_controller").Logger(),
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

// State exposes the shared retry state, for breaker checks at dispatch time.
func (r *RetryController) State() *RetryState {
	return r.state
}

// Exhausted reports whether the breaker has tripped for this provider.
func (r *RetryController) Exhausted() bool {
	return r.state.Exhausted(r.cfg.BreakerThreshold)
}

// Call executes fn, retrying rate-limited and transient failures up to
// MaxRetries additional attempts. Malformed and fatal failures return
// immediately. Rate-limited and transient failures keep independent attempt
// counters for the backoff computation.
func (r *RetryController) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	rateAttempt := 0
	transientAttempt := 0

	for calls := 1; ; calls++ {
		if r.Exhausted() {
			return &ClassifiedError{Class: ClassFatal, Err: ErrProviderExhausted}
		}

		err := fn(ctx)
		if err == nil {
			r.state.RecordSuccess()
			return nil
		}

		classified := Classify(err)

		var delay time.Duration
		switch classified.Class {
		case ClassMalformed, ClassFatal:
			return classified
		case ClassRateLimited:
			hits := r.state.RecordRateLimit()
			if hits >= r.cfg.BreakerThreshold {
				r.logger.Warn().Int("consecutive_hits", hits).Msg("circuit breaker tripped")
				observability.BreakerTrips().Inc()
				return &ClassifiedError{Class: ClassFatal, Err: fmt.Errorf("%w: %v", ErrProviderExhausted, err)}
			}
			if calls > r.cfg.MaxRetries {
				return classified
			}
			if classified.RetryAfter != nil {
				delay = *classified.RetryAfter
			} else {
				delay = r.backoff(rateAttempt)
			}
			rateAttempt++
		case ClassTransient:
			if calls > r.cfg.MaxRetries {
				return classified
			}
			delay = r.backoff(transientAttempt)
			transientAttempt++
		}

		r.logger.Debug().
			Str("class", string(classified.Class)).
			Dur("delay", delay).
			Int("call", calls).
			Msg("provider call failed, backing off")

		if err := r.sleep(ctx, delay); err != nil {
			return &ClassifiedError{Class: ClassFatal, Err: err}
		}
	}
}

// backoff computes base*2^attempt plus up to one second of jitter, capped at MaxDelay.
func (r *RetryController) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	delay += time.Duration(r.jitter() * float64(time.Second))
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
