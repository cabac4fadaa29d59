package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("assessment session not found")
	ErrInvalidTransition = errors.New("operation not valid in the session's current state")
)
