package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrSubmission  = errors.New("submission failed")
	ErrCallback    = errors.New("unattributable callback")
	ErrJobTerminal = errors.New("job is in a terminal state")
	ErrImageFetch  = errors.New("image fetch failed")
	ErrImageDecode = errors.New("image decode failed")
)

// ValidationError rejects a startJob input before any state is created. It
// names the specific offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation: field %q is required", e.Field)
	}
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
