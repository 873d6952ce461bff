package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or out-of-range caller input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition marks a status change the lifecycle rules forbid.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTerminalStage marks an advance attempted past the final stage.
	ErrTerminalStage = errors.New("terminal stage")
	// ErrConfirmationRequired marks an override issued without acknowledgement.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrPHIAuthorization marks an export of protected content without the
	// explicit authorization flag.
	ErrPHIAuthorization = errors.New("phi authorization required")
	// ErrStaleCompletion marks an async stage completion that lost its race
	// against a manual override or another transition.
	ErrStaleCompletion = errors.New("stale completion")
	// ErrStageTimeout marks a stage processor that exceeded its deadline.
	ErrStageTimeout = errors.New("stage timeout")
	// ErrNotFound marks a packet id with no stored row.
	ErrNotFound = errors.New("packet not found")
)

// Wrap builds an error message that includes stage and operation context while
// tagging it with the provided sentinel for later classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
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
		return "lifecycle failure"
	}
	return strings.Join(parts, ": ")
}
