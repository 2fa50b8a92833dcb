// Package ratelimit keeps outbound calls to a provider inside the window the
// provider last advertised.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Window is what the guard remembers about one provider bucket.
type Window struct {
	Key            core.RateLimitKey
	Remaining      int
	ResetAt        *time.Time
	ThrottledUntil *time.Time
	Strikes        int
	LastStatus     int
	UpdatedAt      time.Time
}

type WindowStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (Window, error)
	Put(ctx context.Context, window Window) error
}

// ThrottledError is returned by BeforeCall while a bucket is cooling down.
// Its message carries "throttled" so the retry executor treats it as
// transient.
type ThrottledError struct {
	ProviderID string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s/%s throttled for %s",
		strings.TrimSpace(e.ProviderID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": strings.TrimSpace(e.ProviderID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// Guard blocks calls while a bucket is throttled. A 429, or an exhausted
// remaining count, opens a cooldown taken from Retry-After when present and
// from a doubling backoff otherwise.
type Guard struct {
	Store          WindowStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewGuard(store WindowStore) *Guard {
	if store == nil {
		store = NewMemoryWindowStore()
	}
	return &Guard{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (g *Guard) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if g == nil || g.Store == nil {
		return nil
	}
	window, err := g.Store.Get(ctx, normalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := g.now()
	if until := window.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{ProviderID: window.Key.ProviderID, BucketKey: window.Key.BucketKey, RetryAfter: until.Sub(now)}
	}
	if window.Remaining == 0 && window.ResetAt != nil && now.Before(*window.ResetAt) {
		return ThrottledError{ProviderID: window.Key.ProviderID, BucketKey: window.Key.BucketKey, RetryAfter: window.ResetAt.Sub(now)}
	}
	return nil
}

func (g *Guard) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if g == nil || g.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := g.now()

	window, err := g.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		window = Window{Key: key, Remaining: -1}
	case err != nil:
		return err
	}
	window.LastStatus = res.StatusCode
	window.UpdatedAt = now

	remaining, hasRemaining := headerInt(res.Headers, "x-ratelimit-remaining")
	if hasRemaining {
		window.Remaining = remaining
	}
	if resetAt, ok := headerUnix(res.Headers, "x-ratelimit-reset"); ok {
		window.ResetAt = &resetAt
	}
	retryAfter, hasRetryAfter := retryAfterOf(res, now)

	throttled := res.StatusCode == http.StatusTooManyRequests ||
		(res.StatusCode < http.StatusInternalServerError && hasRemaining && remaining == 0)
	if !throttled {
		window.Strikes = 0
		window.ThrottledUntil = nil
		return g.Store.Put(ctx, window)
	}

	window.Strikes++
	delay := retryAfter
	if !hasRetryAfter {
		delay = g.backoff(window.Strikes)
	}
	until := now.Add(delay)
	window.ThrottledUntil = &until
	return g.Store.Put(ctx, window)
}

func (g *Guard) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Guard) backoff(strikes int) time.Duration {
	return core.ExponentialBackoffScheduler{
		Initial: positiveOr(g.InitialBackoff, time.Second),
		Max:     positiveOr(g.MaxBackoff, time.Minute),
	}.NextDelay(strikes)
}

func positiveOr(value time.Duration, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func retryAfterOf(res core.ProviderResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func headerInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func headerUnix(headers map[string]string, key string) (time.Time, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: strings.TrimSpace(strings.ToLower(key.ProviderID)),
		BucketKey:  strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

type MemoryWindowStore struct {
	mu    sync.RWMutex
	items map[core.RateLimitKey]Window
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{items: map[core.RateLimitKey]Window{}}
}

func (s *MemoryWindowStore) Get(_ context.Context, key core.RateLimitKey) (Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window, ok := s.items[normalizeKey(key)]
	if !ok {
		return Window{}, ErrStateNotFound
	}
	return window, nil
}

func (s *MemoryWindowStore) Put(_ context.Context, window Window) error {
	window.Key = normalizeKey(window.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[window.Key] = window
	return nil
}

var _ core.RateLimitPolicy = (*Guard)(nil)
