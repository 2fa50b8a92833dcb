package core

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestExponentialBackoffScheduler_DefaultWaits(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{}
	want := []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for index, expected := range want {
		if got := scheduler.NextDelay(index + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", index+1, expected, got)
		}
	}
}

func TestRetryExecutor_RetriesTransientUntilSuccess(t *testing.T) {
	var delays []time.Duration
	executor := RetryExecutor{
		Backoff: FixedBackoffScheduler{},
		OnRetry: func(_ context.Context, _ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}
	calls := 0
	err := executor.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 retry waits, got %d", len(delays))
	}
}

func TestRetryExecutor_ExhaustionReturnsLastError(t *testing.T) {
	executor := RetryExecutor{Backoff: FixedBackoffScheduler{}}
	calls := 0
	var last error
	err := executor.Do(context.Background(), func(context.Context) error {
		calls++
		last = ExternalCallFailure("identity.update_metadata", stderrors.New("status 503"))
		return last
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if err != last {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
}

func TestRetryExecutor_PermanentErrorReturnsImmediately(t *testing.T) {
	executor := RetryExecutor{Backoff: FixedBackoffScheduler{Delay: time.Hour}}
	calls := 0
	err := executor.Do(context.Background(), func(context.Context) error {
		calls++
		return goerrors.New("bad payload", goerrors.CategoryBadInput)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}

func TestRetryExecutor_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := RetryExecutor{Backoff: FixedBackoffScheduler{Delay: time.Hour}}
	calls := 0
	err := executor.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return TransientStorage(stderrors.New("deadlock detected"))
	})
	if !IsTransientStorage(err) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestIsTransient_Classification(t *testing.T) {
	transient := []error{
		TransientStorage(stderrors.New("x")),
		ExternalCallFailure("op", nil),
		stderrors.New("pq: could not serialize access due to concurrent update"),
		goerrors.New("slow down", goerrors.CategoryRateLimit),
	}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Fatalf("expected transient: %v", err)
		}
	}
	permanent := []error{
		nil,
		InvalidSignature(nil),
		NotFound("user", "u"),
		DuplicateSubscription("b", stderrors.New("unique constraint failed")),
		stderrors.New("UNIQUE constraint failed: users.email"),
		Conflict("email taken", nil),
		context.Canceled,
		stderrors.New("boom"),
	}
	for _, err := range permanent {
		if IsTransient(err) {
			t.Fatalf("expected permanent: %v", err)
		}
	}
}
