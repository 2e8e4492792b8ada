package models

import (
	"errors"
	"fmt"
)

// Stable error kinds surfaced to callers.
const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindConflict          = "conflict"
	KindState             = "state"
	KindInsufficientFunds = "insufficient_funds"
	KindInfrastructure    = "infrastructure"
)

// ErrValidation indicates malformed or out-of-range input.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrNotFound indicates a referenced entity does not exist.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConflict indicates a uniqueness violation.
type ErrConflict struct {
	Resource string
	Key      string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Key)
}

// ErrState indicates an illegal state transition.
type ErrState struct {
	From   string
	To     string
	Reason string
}

func (e *ErrState) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// ErrInsufficientFunds indicates the points balance cannot cover the operation.
type ErrInsufficientFunds struct {
	Available int64
	Required  int64
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient points: available=%d required=%d", e.Available, e.Required)
}

// ErrInfrastructure wraps a storage, queue or broker failure.
type ErrInfrastructure struct {
	Op  string
	Err error
}

func (e *ErrInfrastructure) Error() string {
	return fmt.Sprintf("infrastructure error [%s]: %v", e.Op, e.Err)
}

func (e *ErrInfrastructure) Unwrap() error {
	return e.Err
}

// Infra wraps err as an ErrInfrastructure unless it already carries a domain kind.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInfrastructure {
		return err
	}
	var ie *ErrInfrastructure
	if errors.As(err, &ie) {
		return err
	}
	return &ErrInfrastructure{Op: op, Err: err}
}

// KindOf maps an error to its stable kind. Unclassified errors are infrastructure.
func KindOf(err error) string {
	var (
		ve *ErrValidation
		ne *ErrNotFound
		ce *ErrConflict
		se *ErrState
		fe *ErrInsufficientFunds
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ne):
		return KindNotFound
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &se):
		return KindState
	case errors.As(err, &fe):
		return KindInsufficientFunds
	default:
		return KindInfrastructure
	}
}
