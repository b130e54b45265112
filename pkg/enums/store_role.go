package enums

import "fmt"

// StoreRole identifies the actor behind an event.
type StoreRole string

const (
	StoreRoleOwner   StoreRole = "owner"
	StoreRoleCashier StoreRole = "cashier"
)

var validStoreRoles = []StoreRole{
	StoreRoleOwner,
	StoreRoleCashier,
}

// IsValid reports whether the value is a known StoreRole.
func (r StoreRole) IsValid() bool {
	for _, candidate := range validStoreRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseStoreRole converts raw input into a StoreRole.
func ParseStoreRole(value string) (StoreRole, error) {
	for _, candidate := range validStoreRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid store role %q", value)
}
