package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrUnrecognizedInstrument = errors.New("unrecognized instrument")
	ErrInvalidFilter          = errors.New("invalid filter")
	ErrUnknownMode            = errors.New("unknown mode")
	ErrClockRegression        = errors.New("cycle clock moved backwards")
	ErrLockHeld               = errors.New("lock already held")
)
