package engine

import "errors"

var (
	// ErrValidation covers malformed or missing request fields and
	// below-minimum withdrawal amounts.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
