package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapError_TaxonomyEnvelopes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category goerrors.Category
		textCode string
		status   int
	}{
		{"invalid signature", InvalidSignature(stderrors.New("mismatch")), goerrors.CategoryAuth, ErrorInvalidSignature, http.StatusUnauthorized},
		{"not found", NotFound("user", "u1"), goerrors.CategoryNotFound, ErrorNotFound, http.StatusNotFound},
		{"duplicate", DuplicateSubscription("b1", nil), goerrors.CategoryConflict, ErrorDuplicateSubscription, http.StatusConflict},
		{"transient", TransientStorage(stderrors.New("database is locked")), goerrors.CategoryOperation, ErrorTransientStorage, http.StatusServiceUnavailable},
		{"external", ExternalCallFailure("identity.get_user", stderrors.New("502")), goerrors.CategoryExternal, ErrorExternalCallFailed, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(fmt.Errorf("wrapped: %w", tc.err))
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, mapped.Category)
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
}

func TestReconcileError_IsMatchesSentinelAndCause(t *testing.T) {
	cause := stderrors.New("sqlite: database is locked")
	err := fmt.Errorf("ensure role: %w", TransientStorage(cause))

	if !stderrors.Is(err, ErrTransientStorage) {
		t.Fatalf("expected errors.Is to match transient sentinel")
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}
	if !IsTransientStorage(err) {
		t.Fatalf("expected IsTransientStorage")
	}
	if IsNotFound(err) {
		t.Fatalf("did not expect not found")
	}
}

func TestHasKind_MatchesRichTextCode(t *testing.T) {
	rich := goerrors.New("gone", goerrors.CategoryNotFound).WithTextCode(ErrorNotFound)
	if !IsNotFound(rich) {
		t.Fatalf("expected text code match for rich error")
	}
}

func TestMapError_MessageHeuristicsAndPassthrough(t *testing.T) {
	mapped := MapError(stderrors.New("webhooks: signature verification failed"))
	if mapped.TextCode != ErrorInvalidSignature {
		t.Fatalf("expected invalid signature code, got %q", mapped.TextCode)
	}

	mapped = MapError(stderrors.New("httpapi: plan_id is required"))
	if mapped.Category != goerrors.CategoryBadInput || mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected bad input envelope, got %q/%d", mapped.Category, mapped.Code)
	}

	rich := goerrors.New("payer only", goerrors.CategoryAuthz)
	mapped = MapError(rich)
	if mapped.TextCode != ErrorForbidden || mapped.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden defaults, got %q/%d", mapped.TextCode, mapped.Code)
	}

	if MapError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
