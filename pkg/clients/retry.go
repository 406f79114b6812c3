package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"lance/pkg/logging"
)

// RetryConfig configures DoWithRetry.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// JitterFactor spreads each delay by +/- the given fraction.
	JitterFactor float32
	ShouldRetry  func(resp *http.Response, err error) bool
	Breaker      circuitbreaker.CircuitBreaker[*http.Response]
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
		ShouldRetry:  DefaultShouldRetry,
	}
}

// DefaultShouldRetry retries transport errors, 5xx gateway failures and 429.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// NewBreaker builds a circuit breaker that opens after half of the last ten
// calls failed and probes again after delay.
func NewBreaker(name string, delay time.Duration, logger logging.Logger) circuitbreaker.CircuitBreaker[*http.Response] {
	builder := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(delay)
	if logger != nil {
		builder = builder.OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"circuit_breaker": name,
				"from_state":      fmt.Sprint(e.OldState),
				"to_state":        fmt.Sprint(e.NewState),
			}).Warn("circuit breaker state change")
		})
	}
	return builder.Build()
}

// DoWithRetry sends req with exponential backoff. The body is buffered once
// and replayed on every attempt. The final response is returned even when it
// is a retryable failure so callers can report its status.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, cfg RetryConfig) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.BaseDelay {
		maxDelay = cfg.BaseDelay
	}

	retryBuilder := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(shouldRetry).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			if resp := e.LastResult(); resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		})
	if cfg.BaseDelay > 0 {
		retryBuilder = retryBuilder.WithBackoff(cfg.BaseDelay, maxDelay)
	}
	if cfg.JitterFactor > 0 {
		retryBuilder = retryBuilder.WithJitterFactor(float64(cfg.JitterFactor))
	}

	policies := []failsafe.Policy[*http.Response]{retryBuilder.Build()}
	if cfg.Breaker != nil {
		policies = append(policies, cfg.Breaker)
	}

	return failsafe.With(policies...).WithContext(ctx).Get(func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		attempt, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), reader)
		if err != nil {
			return nil, err
		}
		attempt.Header = req.Header.Clone()
		return client.Do(attempt)
	})
}
