package domain

import "errors"

var (
	ErrMissingToken  = errors.New("missing token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrNoSecret      = errors.New("auth secret is not configured")
)
