package device

import "errors"

var (
	// ErrGroupNotFound is returned when a device group ID does not exist.
	ErrGroupNotFound = errors.New("device group: not found")

	// ErrInvalidGroupName is returned when a group name is empty or too long.
	ErrInvalidGroupName = errors.New("device group: invalid name")

	// ErrUnknownParent is returned when the requested parent group does not exist.
	ErrUnknownParent = errors.New("device group: unknown parent")

	// ErrGroupCycle is returned when a parent change would make a group
	// its own ancestor.
	ErrGroupCycle = errors.New("device group: parent would create a cycle")
)
