package auth

import "errors"

var (
	// ErrTokenInvalid covers bad signatures, expiry, malformed tokens and
	// tokens without a user identity.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrNoSecret is returned when verification is attempted without a
	// configured signing secret.
	ErrNoSecret = errors.New("auth: signing secret not configured")
)
