package auth

import "errors"

var (
	// ErrInvalidToken indicates the session token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrInvalidInput = errors.New("auth: invalid input")
)
