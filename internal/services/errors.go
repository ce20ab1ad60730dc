package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInputUnavailable = errors.New("input unavailable")
	ErrExternalTool     = errors.New("external tool error")
	ErrStorage          = errors.New("storage error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
)

// Kind is the stable error classification surfaced in status snapshots.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindInputUnavailable Kind = "input_unavailable"
	KindExternalTool     Kind = "external_failure"
	KindStorage          Kind = "storage_failure"
	KindConfiguration    Kind = "configuration"
	KindNotFound         Kind = "not_found"
	KindUnknown          Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its Kind using the sentinel markers.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInputUnavailable):
		return KindInputUnavailable
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// IsRejection reports whether an error rejects the invocation up front:
// no external call was made and no stage transition may be recorded.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInputUnavailable)
}

// ErrorDetails carries the structured pieces of a wrapped stage error.
type ErrorDetails struct {
	Kind    Kind
	Message string
	Cause   error
}

// Details extracts structured information from an error produced by Wrap.
// Unwrapped errors yield KindUnknown with the raw message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{
		Kind:    Classify(err),
		Message: strings.TrimSpace(err.Error()),
		Cause:   errors.Unwrap(err),
	}
	for _, marker := range []error{ErrValidation, ErrInputUnavailable, ErrExternalTool, ErrStorage, ErrConfiguration, ErrNotFound, ErrTransient} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(details.Message, prefix) {
			details.Message = strings.TrimPrefix(details.Message, prefix)
			break
		}
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
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
