package auction

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; the wrapped message carries detail.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("listing not found")
	ErrInvalidState = errors.New("auction not active")
	ErrConflict     = errors.New("concurrent update conflict")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundError(listingID int64) error {
	return fmt.Errorf("%w: id %d", ErrNotFound, listingID)
}
