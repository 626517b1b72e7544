package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateKey             = errors.New("duplicate key")
	ErrNotFound                 = errors.New("not found")
	ErrProtected                = errors.New("protected")
	ErrConcurrencyLimitExceeded = errors.New("concurrency limit exceeded")
	ErrValidation               = errors.New("validation error")
	ErrDiscoveryFailure         = errors.New("discovery failure")
	ErrMatchingWarning          = errors.New("matching warning")
)

// ValidationError lists every problem found with a submitted value.
// It unwraps to ErrValidation.
type ValidationError struct {
	Subject  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError returns nil when problems is empty.
func NewValidationError(subject string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Subject: subject, Problems: problems}
}
