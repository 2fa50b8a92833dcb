package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

// failureKind pins the category, status and text code of one class of
// pipeline error.
type failureKind struct {
	category goerrors.Category
	status   int
	textCode string
}

var (
	failBadInput    = failureKind{goerrors.CategoryBadInput, http.StatusBadRequest, core.ErrorBadInput}
	failInternal    = failureKind{goerrors.CategoryInternal, http.StatusInternalServerError, core.ErrorInternal}
	failUnavailable = failureKind{goerrors.CategoryOperation, http.StatusServiceUnavailable, core.ErrorTransientStorage}
)

func (k failureKind) new(message string, metadata map[string]any) error {
	return k.decorate(goerrors.New(message, k.category), metadata)
}

func (k failureKind) wrap(source error, message string, metadata map[string]any) error {
	if source == nil {
		return k.new(message, metadata)
	}
	return k.decorate(goerrors.Wrap(source, k.category, message), metadata)
}

func (k failureKind) decorate(err *goerrors.Error, metadata map[string]any) error {
	err = err.WithCode(k.status).WithTextCode(k.textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func inboundBadInput(message string, metadata map[string]any) error {
	return failBadInput.new(message, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return failInternal.new(message, metadata)
}
