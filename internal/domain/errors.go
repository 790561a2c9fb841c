package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidPosition  = errors.New("invalid position")
	ErrNoQuote          = errors.New("no quote available")
	ErrQuoteUnavailable = errors.New("quote source unavailable")
	ErrLockHeld         = errors.New("lock already held")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)
