package httpapi

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

type ErrorResponse struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorHandler renders every error through core.MapError. Fiber's own errors
// keep their status.
func ErrorHandler(logger core.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Code:    http.StatusText(fiberErr.Code),
				Message: fiberErr.Message,
			})
		}
		mapped := core.MapError(err)
		status := mapped.Code
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError && logger != nil {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		}
		return c.Status(status).JSON(ErrorResponse{
			Code:     mapped.TextCode,
			Message:  mapped.Message,
			Metadata: mapped.Metadata,
		})
	}
}

func unauthorized(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorInvalidSignature)
}
