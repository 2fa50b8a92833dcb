package command

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

// fieldCheck is one validation rule; failed rules become field errors.
type fieldCheck struct {
	field   string
	message string
	failed  bool
}

func required(field string, value string) fieldCheck {
	return fieldCheck{
		field:   field,
		message: strings.ReplaceAll(field, "_", " ") + " is required",
		failed:  strings.TrimSpace(value) == "",
	}
}

func ensure(ok bool, field string, message string) fieldCheck {
	return fieldCheck{field: field, message: message, failed: !ok}
}

// validateFields reports every failed check in one validation error.
func validateFields(checks ...fieldCheck) error {
	var fields []goerrors.FieldError
	for _, check := range checks {
		if check.failed {
			fields = append(fields, goerrors.FieldError{Field: check.field, Message: check.message})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidation("command: validation failed", fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func missingDependency(name string) error {
	return goerrors.New("command: "+name+" is required", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
