package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTransient            = errors.New("transient failure")
	ErrRateLimited          = errors.New("rate limited")
	ErrCircuitOpen          = errors.New("circuit open")
	ErrUnauthorized         = errors.New("unauthorized")
)
