package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrMissingConfig = errors.New("auth: missing configuration")

	// ErrInvalidToken is the single outcome of any token verification failure.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidCredentials is returned for unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)
