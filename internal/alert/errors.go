package alert

import "errors"

// Domain errors for alerts.
var (
	ErrAlertNotFound   = errors.New("alert: not found")
	ErrInvalidSeverity = errors.New("alert: invalid severity")
	ErrInvalidAlert    = errors.New("alert: type and message are required")
)
