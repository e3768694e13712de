package domain

import "errors"

var (
	// Malformed input or unknown ids. No state change happened.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// A concurrent caller already performed the transition.
	ErrConflict = errors.New("conflict")
	// Optimizer or notifier could not be reached.
	ErrExternalService = errors.New("external service unavailable")

	ErrNoWorkerAvailable = errors.New("no available worker with a known location")
)
