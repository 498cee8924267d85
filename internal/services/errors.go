package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrHandler         = errors.New("handler error")
	ErrTransition      = errors.New("invalid transition")
	ErrNotFound        = errors.New("not found")
	ErrExternalTimeout = errors.New("external timeout")
	ErrExternalService = errors.New("external service error")
	ErrConfiguration   = errors.New("configuration error")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short machine-readable classification for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrHandler):
		return "handler"
	case errors.Is(err, ErrTransition):
		return "transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExternalTimeout):
		return "external_timeout"
	case errors.Is(err, ErrExternalService):
		return "external_service"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "transient"
	}
}

// Retryable reports whether a later attempt may succeed without operator action.
func Retryable(err error) bool {
	switch Kind(err) {
	case "external_service", "transient":
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
