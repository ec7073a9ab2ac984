package core

import (
	"errors"
	"fmt"
)

// Error types for window operations
var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidResourceURL = errors.New("invalid resource url")
	ErrGateFull           = errors.New("concurrent open limit reached")
	ErrResourceClosing    = errors.New("resource is closing")
	ErrControllerClosed   = errors.New("controller closed")
)

// ResourceError reports a failed backend operation for one item.
type ResourceError struct {
	ItemID    string
	Operation string
	Cause     error
}

func (e *ResourceError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("resource %s: %s failed: %v", e.ItemID, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Cause)
}

func (e *ResourceError) Unwrap() error {
	return e.Cause
}

// NewResourceError creates a new resource error
func NewResourceError(itemID, operation string, cause error) *ResourceError {
	return &ResourceError{
		ItemID:    itemID,
		Operation: operation,
		Cause:     cause,
	}
}

// IsResourceError checks if an error is a resource error
func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}
