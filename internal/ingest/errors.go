package ingest

import "errors"

// Reasons a message is dropped.
var (
	ErrInvalidTopic   = errors.New("ingest: invalid topic")
	ErrInvalidPayload = errors.New("ingest: invalid payload")
	ErrUnknownDevice  = errors.New("ingest: unknown device")
)
