package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrSigningFailed      = errors.New("signing failed")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrConfirmTimeout     = errors.New("order confirmation timed out")
	ErrInsufficientShares = errors.New("sell exceeds held shares")
)
