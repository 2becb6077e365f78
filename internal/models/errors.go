package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced holder, loan or vouch does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input: bad amounts, unknown enum values, self-vouching.
	ErrValidation = errors.New("validation error")

	// ErrStateConflict marks an operation that is not allowed in the entity's current state.
	ErrStateConflict = errors.New("state conflict")

	// ErrIntegrity is returned when stored loan terms no longer match their signature.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrSelfVouch is a validation error: a holder cannot vouch for themselves.
	ErrSelfVouch = fmt.Errorf("%w: cannot vouch for yourself", ErrValidation)
)
