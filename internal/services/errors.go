package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks failures caused by bad input; never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks failures caused by missing or invalid setup.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups that matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks requests that contradict recorded state.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks collaborator failures worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrUnavailable marks collaborator failures that exhaust the stage.
	ErrUnavailable = errors.New("unavailable")
	// ErrContentPolicy marks expected business rejections (malware, unsafe
	// content); these quarantine the asset instead of failing it.
	ErrContentPolicy = errors.New("content policy")
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

// Retryable reports whether a stage error should be attempted again.
// Cancellation is never retried here; the dispatcher owns shutdown.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, ErrContentPolicy), errors.Is(err, ErrUnavailable):
		return false
	default:
		return true
	}
}

// IsContentPolicy reports whether an error represents an expected content
// rejection rather than a system fault.
func IsContentPolicy(err error) bool {
	return errors.Is(err, ErrContentPolicy)
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
