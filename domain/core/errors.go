package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	ErrNotFound         = errors.New("resource not found")
	ErrArtifactNotFound = fmt.Errorf("%w: artifact", ErrNotFound)
	ErrRunNotFound      = fmt.Errorf("%w: run", ErrNotFound)
)

// NewNotFoundError names the missing resource
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// NewValidationError reports an invalid field
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}
