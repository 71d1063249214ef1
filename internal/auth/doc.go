// Package auth verifies the bearer tokens presented to the REST API and
// the real-time event stream.
//
// fleetwatch does not issue credentials of its own in production. Tokens
// are HS256 JWTs signed with the shared secret from security.jwt.secret;
// the user id is read from the "userId" claim, falling back to "sub".
package auth
