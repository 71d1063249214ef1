package command

import "errors"

// Domain errors for commands.
var (
	ErrCommandNotFound = errors.New("command: not found")
	ErrAlreadyResolved = errors.New("command: already resolved")
	ErrInvalidCommand  = errors.New("command: name is required")
	ErrDeviceRequired  = errors.New("command: device id is required")
)
