package http

import (
	"context"
	"fmt"
	"math/rand"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/logging"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates authentication/authorization failure (403, expired token, bad SAS)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (500, 502, 503, throttling)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors that should not be retried (400, 404, invalid request)
	ErrorTypeFatal
)

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// Retries is the number of attempts after the first one. Zero runs the
	// operation exactly once.
	Retries int
	// InitialDelay is the base delay for exponential backoff
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// RetryConfig derives the retry parameters for SDK backed uploads from cfg.
func RetryConfig(cfg *config.Config) Config {
	c := Config{
		InitialDelay: constants.HTTPRetryWaitMin,
		MaxDelay:     constants.HTTPRetryWaitMax,
	}
	if cfg != nil {
		c.Retries = cfg.MaxRetries
	}
	return c
}

// Substrings of lower-cased error texts, checked in this order. They cover
// both the S3 and the Azure SDK messages.
var (
	credentialMarkers = []string{
		"expired", "invalid token", "403", "unauthorized",
		"authentication failed", "authenticationfailed",
		"invalid sas", "sas token", "signature not valid", "authorization failure",
	}
	networkMarkers = []string{
		"connection reset", "connection refused", "broken pipe", "eof", "timeout",
	}
	retryableMarkers = []string{
		"requesttimeout", "internalerror", "serviceunavailable", "service unavailable",
		"slowdown", "throttl", "server busy", "serverbusy",
		"429", "500", "502", "503", "504",
	}
)

// ClassifyError determines the error type for retry strategy. Unknown
// errors are fatal so an unexpected failure never loops.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, credentialMarkers):
		return ErrorTypeCredential
	case containsAny(msg, networkMarkers):
		return ErrorTypeNetwork
	case containsAny(msg, retryableMarkers):
		return ErrorTypeRetryable
	default:
		return ErrorTypeFatal
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CalculateBackoff returns exponential backoff duration with full jitter:
// random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := maxDelay
	if attempt < 30 {
		if d := time.Duration(1<<uint(attempt)) * initialDelay; d < maxDelay {
			base = d
		}
	}
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// ExecuteWithRetry runs operation until it succeeds, fails fatally, the
// context ends, or the retries are used up.
//
// Credential errors are retried without backoff: a SAS token or session key
// that was just rotated in the environment is picked up by the next attempt.
// Network and server errors back off with full jitter.
func ExecuteWithRetry(ctx context.Context, cfg Config, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType == ErrorTypeFatal || ctx.Err() != nil {
			return err
		}
		if attempt == cfg.Retries {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, errType)
		}

		var backoff time.Duration
		if errType != ErrorTypeCredential {
			backoff = CalculateBackoff(attempt+1, cfg.InitialDelay, cfg.MaxDelay)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < backoff {
			return fmt.Errorf("deadline too close to retry: %w", err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}

	if cfg.Retries == 0 {
		return lastErr
	}
	return fmt.Errorf("operation failed after %d attempts: %w", cfg.Retries+1, lastErr)
}

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// retryLogger implements the retryablehttp.LeveledLogger interface on top
// of a zerolog backed logger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// NewRetryableClient wraps the optimized client with go-retryablehttp.
// cfg.MaxRetries bounds the retries per request; zero sends each request once.
func NewRetryableClient(cfg *config.Config, logger *logging.Logger) (*retryablehttp.Client, error) {
	httpClient, err := CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryWaitMin = constants.HTTPRetryWaitMin
	retryClient.RetryWaitMax = constants.HTTPRetryWaitMax
	retryClient.Backoff = backoff
	retryClient.Logger = &retryLogger{logger: logging.OrNop(logger).Child("http")}
	retryClient.RetryMax = 0
	if cfg != nil {
		retryClient.RetryMax = cfg.MaxRetries
	}
	return retryClient, nil
}

// backoff honors Retry-After on throttling responses and falls back to
// full jitter otherwise.
func backoff(min, max time.Duration, attemptNum int, resp *nethttp.Response) time.Duration {
	if resp != nil && (resp.StatusCode == nethttp.StatusTooManyRequests || resp.StatusCode == nethttp.StatusServiceUnavailable) {
		return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	}
	return CalculateBackoff(attemptNum+1, min, max)
}
