package transport

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryAuth:
		return core.ErrorInvalidSignature
	case goerrors.CategoryAuthz:
		return core.ErrorForbidden
	case goerrors.CategoryRateLimit:
		return core.ErrorRateLimited
	case goerrors.CategoryExternal:
		return core.ErrorExternalCallFailed
	default:
		return core.ErrorInternal
	}
}

// StatusError turns a provider response outside 2xx into a domain error.
// 404 maps to NotFound, 408, 429 and 5xx to ExternalCallFailure so the retry
// executor picks them up, anything else to a bad input envelope.
func StatusError(operation string, entity string, id string, res core.TransportResponse) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	detail := strings.TrimSpace(string(res.Body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	cause := fmt.Errorf("%s: provider returned status %d: %s", operation, res.StatusCode, detail)

	switch {
	case res.StatusCode == http.StatusNotFound:
		return core.NotFound(entity, id)
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusRequestTimeout,
		res.StatusCode >= http.StatusInternalServerError:
		return core.ExternalCallFailure(operation, cause)
	default:
		return transportWrapError(
			cause,
			goerrors.CategoryBadInput,
			operation+": provider rejected request",
			res.StatusCode,
			map[string]any{"operation": operation, "status_code": res.StatusCode},
		)
	}
}
