package core

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRetryMaxAttempts       = 3
	defaultExternalInitialBackoff = 4 * time.Second
	defaultExternalMaxBackoff     = 10 * time.Second
	defaultLocalBackoff           = time.Second
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffScheduler doubles Initial per attempt and caps at Max.
// With the defaults the waits are 4s, 8s, 10s.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultExternalInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultExternalMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// FixedBackoffScheduler waits the same Delay between attempts. A zero Delay
// retries immediately.
type FixedBackoffScheduler struct {
	Delay time.Duration
}

func (s FixedBackoffScheduler) NextDelay(int) time.Duration {
	if s.Delay < 0 {
		return 0
	}
	return s.Delay
}

type ErrorClassifier func(err error) bool

type RetryHook func(ctx context.Context, attempt int, delay time.Duration, err error)

// RetryExecutor runs an operation up to MaxAttempts times, retrying only the
// errors Classifier reports as transient. Exhaustion returns the last error
// unchanged.
type RetryExecutor struct {
	MaxAttempts int
	Backoff     BackoffScheduler
	Classifier  ErrorClassifier
	OnRetry     RetryHook
}

func NewExternalRetryExecutor(cfg Config) RetryExecutor {
	return RetryExecutor{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.ExternalBackoff(),
		Classifier:  IsTransient,
	}
}

func NewLocalRetryExecutor(cfg Config) RetryExecutor {
	return RetryExecutor{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.LocalBackoff(),
		Classifier:  IsTransient,
	}
}

func (r RetryExecutor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	classify := r.Classifier
	if classify == nil {
		classify = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) || attempt == maxAttempts {
			return err
		}

		delay := defaultLocalBackoff
		if r.Backoff != nil {
			delay = r.Backoff.NextDelay(attempt)
		}
		if r.OnRetry != nil {
			r.OnRetry(ctx, attempt, delay, err)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return lastErr
		}
	}
	return lastErr
}

// IsTransient reports whether err is worth retrying: storage contention,
// connection loss, external call failures and provider throttling.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTransientStorage(err) || IsExternalCallFailure(err) {
		return true
	}
	if IsInvalidSignature(err) || IsNotFound(err) || IsDuplicateSubscription(err) {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryRateLimit, goerrors.CategoryExternal:
			return true
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation,
			goerrors.CategoryBadInput, goerrors.CategoryNotFound, goerrors.CategoryConflict:
			return false
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return IsTransientStorageMessage(err.Error())
}

// IsTransientStorageMessage matches driver error text for lock contention,
// serialization failures and lost connections across sqlite and postgres.
// Unique violations are not listed: the store decides whether one is a race
// on the same key or a conflict with another row.
func IsTransientStorageMessage(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"could not serialize access",
		"deadlock detected",
		"connection reset",
		"broken pipe",
		"bad connection",
		"driver: bad connection",
		"too many connections",
		"throttl",
		"rate limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsUniqueViolationMessage matches sqlite and postgres unique constraint
// errors.
func IsUniqueViolationMessage(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
