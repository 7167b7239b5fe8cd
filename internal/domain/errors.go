package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
	ErrAckTimeout    = errors.New("ack_timeout")
	ErrClosed        = errors.New("client closed")
	ErrNoTarget      = errors.New("no connection target")
	ErrInvalidParams = errors.New("invalid auction parameters")
	ErrDecode        = errors.New("decode failed")
)
