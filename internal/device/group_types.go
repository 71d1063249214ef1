package device

import (
	"fmt"
	"strings"
	"time"
)

const maxGroupNameLength = 100

// Group is a named set of devices. Groups nest through ParentID; a device
// belongs to at most one group.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	DeviceCount int       `json:"deviceCount"`
	ChildCount  int       `json:"childCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GroupPatch holds the editable group fields. Nil fields are left unchanged.
type GroupPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	ParentID    NullableID `json:"parentId"`
}

// ValidateGroupName checks a group name.
func ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroupName)
	}
	if len(name) > maxGroupNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidGroupName, maxGroupNameLength)
	}
	return nil
}
