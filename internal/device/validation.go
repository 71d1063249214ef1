package device

import (
	"fmt"
	"strings"
)

const (
	minDeviceIDLength = 3
	maxDeviceIDLength = 50
	maxNameLength     = 100
	maxTags           = 32
	maxTagLength      = 64
)

var validStatuses = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		set[s] = struct{}{}
	}
	return set
}()

// ValidateDeviceID checks the external identifier. It must be usable as a
// single MQTT topic level, so '/', '+' and '#' are rejected.
func ValidateDeviceID(id string) error {
	if len(id) < minDeviceIDLength || len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: must be %d-%d characters", ErrInvalidDeviceID, minDeviceIDLength, maxDeviceIDLength)
	}
	if strings.ContainsAny(id, "/+# \t\n") {
		return fmt.Errorf("%w: must not contain whitespace or MQTT topic characters", ErrInvalidDeviceID)
	}
	return nil
}

// ValidateName checks a device display name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateStatus checks s against the enumeration.
func ValidateStatus(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// ValidateTags enforces count and length limits.
func ValidateTags(tags []string) error {
	if len(tags) > maxTags {
		return fmt.Errorf("%w: at most %d tags", ErrInvalidTags, maxTags)
	}
	for _, tag := range tags {
		if tag == "" || len(tag) > maxTagLength {
			return fmt.Errorf("%w: tags must be 1-%d characters", ErrInvalidTags, maxTagLength)
		}
	}
	return nil
}

// ValidateDevice checks a device before registration.
func ValidateDevice(d *Device) error {
	if err := ValidateDeviceID(d.DeviceID); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	return ValidateTags(d.Tags)
}

// ValidatePatch checks the fields a patch would change.
func ValidatePatch(p Patch) error {
	if p.Name != nil {
		if err := ValidateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Tags != nil {
		return ValidateTags(p.Tags)
	}
	return nil
}
