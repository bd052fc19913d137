package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrNotFound        = errors.New("not found")
	ErrRetryable       = errors.New("transient conflict, try again")
	ErrInvalidOwner    = errors.New("invalid owner")
	ErrEmptyTitle      = errors.New("empty title")
	ErrTitleTooLong    = errors.New("title too long")
	ErrLabelTooLong    = errors.New("category or source too long")
	ErrStoreTooLong    = errors.New("store too long")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidSource   = errors.New("invalid source")
)

// RetryableError marks a lock timeout, deadlock or serialization failure reported by a store.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrRetryable, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

// NewRetryable wraps a driver error as retryable.
func NewRetryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// IsValidation reports whether err is a caller input problem rather than a store failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrInvalidDate,
		ErrInvalidOwner,
		ErrEmptyTitle,
		ErrTitleTooLong,
		ErrLabelTooLong,
		ErrStoreTooLong,
		ErrInvalidCategory,
		ErrInvalidSource,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
