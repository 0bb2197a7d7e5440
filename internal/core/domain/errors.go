package domain

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserBlocked    = errors.New("user is blocked")
	ErrNotConnected   = errors.New("user is not connected")
	ErrRollNotFound   = errors.New("roll not found")
	ErrRollClosed     = errors.New("roll already closed")
	ErrNotRollTarget  = errors.New("responder is not the roll target")
	ErrQuotaExhausted = errors.New("daily roll quota exhausted")
)
