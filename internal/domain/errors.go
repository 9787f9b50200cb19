package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrUnsupportedSymbol  = errors.New("unsupported symbol")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrUpstream           = errors.New("upstream service error")
)
