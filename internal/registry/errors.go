package registry

import "errors"

// Registry errors.
var (
	ErrUnknownTopic          = errors.New("topic is not in the configured topic set")
	ErrInvalidOrExpiredToken = errors.New("subscribe token is invalid or expired")
)
