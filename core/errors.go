package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidSignature      = "RECONCILE_INVALID_SIGNATURE"
	ErrorNotFound              = "RECONCILE_NOT_FOUND"
	ErrorDuplicateSubscription = "RECONCILE_DUPLICATE_SUBSCRIPTION"
	ErrorConflict              = "RECONCILE_CONFLICT"
	ErrorTransientStorage      = "RECONCILE_TRANSIENT_STORAGE"
	ErrorExternalCallFailed    = "RECONCILE_EXTERNAL_CALL_FAILED"
	ErrorBadInput              = "RECONCILE_BAD_INPUT"
	ErrorForbidden             = "RECONCILE_FORBIDDEN"
	ErrorRateLimited           = "RECONCILE_RATE_LIMITED"
	ErrorInternal              = "RECONCILE_INTERNAL_ERROR"
)

var (
	ErrInvalidSignature      = errors.New("reconciler: invalid signature")
	ErrNotFound              = errors.New("reconciler: not found")
	ErrDuplicateSubscription = errors.New("reconciler: duplicate subscription")
	ErrTransientStorage      = errors.New("reconciler: transient storage error")
	ErrExternalCall          = errors.New("reconciler: external call failed")
)

type ErrorKind string

const (
	KindInvalidSignature      ErrorKind = "invalid_signature"
	KindNotFound              ErrorKind = "not_found"
	KindDuplicateSubscription ErrorKind = "duplicate_subscription"
	KindTransientStorage      ErrorKind = "transient_storage"
	KindExternalCall          ErrorKind = "external_call"
)

// ReconcileError carries one of the taxonomy kinds plus the underlying cause.
// errors.Is matches both the kind sentinel and the cause chain.
type ReconcileError struct {
	Kind     ErrorKind
	Message  string
	Cause    error
	Metadata map[string]any
}

func (e *ReconcileError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = kindSentinel(e.Kind).Error()
	}
	if e.Cause == nil {
		return message
	}
	return message + ": " + e.Cause.Error()
}

func (e *ReconcileError) Unwrap() error {
	if e == nil {
		return nil
	}
	sentinel := kindSentinel(e.Kind)
	if e.Cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, e.Cause)
}

func (e *ReconcileError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category, textCode := kindEnvelope(e.Kind)
	err := goerrors.New(e.Error(), category).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode)
	if len(e.Metadata) > 0 {
		err.WithMetadata(cloneFields(e.Metadata))
	}
	return err
}

func InvalidSignature(cause error) error {
	return &ReconcileError{Kind: KindInvalidSignature, Message: ErrInvalidSignature.Error(), Cause: cause}
}

func NotFound(entity string, id string) error {
	return &ReconcileError{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("reconciler: %s %q not found", strings.TrimSpace(entity), strings.TrimSpace(id)),
		Metadata: map[string]any{"entity": entity, "id": id},
	}
}

func DuplicateSubscription(beneficiaryID string, cause error) error {
	return &ReconcileError{
		Kind:     KindDuplicateSubscription,
		Message:  fmt.Sprintf("reconciler: beneficiary %q already has a pending or active subscription", beneficiaryID),
		Cause:    cause,
		Metadata: map[string]any{"beneficiary_id": beneficiaryID},
	}
}

func TransientStorage(cause error) error {
	if cause == nil {
		return nil
	}
	return &ReconcileError{Kind: KindTransientStorage, Message: ErrTransientStorage.Error(), Cause: cause}
}

func ExternalCallFailure(operation string, cause error) error {
	message := ErrExternalCall.Error()
	if operation = strings.TrimSpace(operation); operation != "" {
		message = message + " (" + operation + ")"
	}
	return &ReconcileError{
		Kind:     KindExternalCall,
		Message:  message,
		Cause:    cause,
		Metadata: map[string]any{"operation": operation},
	}
}

// BadInput reports a malformed request or payload.
func BadInput(message string, metadata map[string]any) error {
	err := newServiceError(message, goerrors.CategoryBadInput, ErrorBadInput)
	if len(metadata) > 0 {
		err.WithMetadata(cloneFields(metadata))
	}
	return err
}

// Conflict reports a write that collides with a different existing row, such
// as a second user claiming an email. Retrying cannot fix it.
func Conflict(message string, metadata map[string]any) error {
	err := newServiceError(message, goerrors.CategoryConflict, ErrorConflict)
	if len(metadata) > 0 {
		err.WithMetadata(cloneFields(metadata))
	}
	return err
}

func Forbidden(message string) error {
	return newServiceError(message, goerrors.CategoryAuthz, ErrorForbidden)
}

func IsInvalidSignature(err error) bool {
	return hasKind(err, ErrInvalidSignature, ErrorInvalidSignature)
}

func IsNotFound(err error) bool {
	return hasKind(err, ErrNotFound, ErrorNotFound)
}

func IsDuplicateSubscription(err error) bool {
	return hasKind(err, ErrDuplicateSubscription, ErrorDuplicateSubscription)
}

func IsTransientStorage(err error) bool {
	return hasKind(err, ErrTransientStorage, ErrorTransientStorage)
}

func IsExternalCallFailure(err error) bool {
	return hasKind(err, ErrExternalCall, ErrorExternalCallFailed)
}

func hasKind(err error, sentinel error, textCode string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
	}
	return false
}

// MapError normalizes any error into the go-errors envelope rendered by the
// HTTP surface.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var reconcileErr *ReconcileError
	if errors.As(err, &reconcileErr) {
		return reconcileErr.ToServiceError()
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newServiceError(err.Error(), goerrors.CategoryOperation, ErrorTransientStorage)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorInvalidSignature)
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindInvalidSignature:
		return ErrInvalidSignature
	case KindNotFound:
		return ErrNotFound
	case KindDuplicateSubscription:
		return ErrDuplicateSubscription
	case KindTransientStorage:
		return ErrTransientStorage
	default:
		return ErrExternalCall
	}
}

func kindEnvelope(kind ErrorKind) (goerrors.Category, string) {
	switch kind {
	case KindInvalidSignature:
		return goerrors.CategoryAuth, ErrorInvalidSignature
	case KindNotFound:
		return goerrors.CategoryNotFound, ErrorNotFound
	case KindDuplicateSubscription:
		return goerrors.CategoryConflict, ErrorDuplicateSubscription
	case KindTransientStorage:
		return goerrors.CategoryOperation, ErrorTransientStorage
	default:
		return goerrors.CategoryExternal, ErrorExternalCallFailed
	}
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorInvalidSignature
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorDuplicateSubscription
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorTransientStorage
	case goerrors.CategoryExternal:
		return ErrorExternalCallFailed
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
