package device

import "errors"

// Domain errors for the device package. Check them with errors.Is:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device matches the id.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an external id twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDeviceID is returned when the external id is malformed.
	ErrInvalidDeviceID = errors.New("device: invalid device id")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidStatus is returned for a status outside the enumeration.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidTags is returned when tags exceed the limits.
	ErrInvalidTags = errors.New("device: invalid tags")

	// ErrUnknownGroup is returned when a device is assigned to a group
	// that does not exist.
	ErrUnknownGroup = errors.New("device: unknown group")
)
