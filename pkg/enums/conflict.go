package enums

import "fmt"

// ConflictStatus maps to local_conflicts.status.
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
)

var validConflictStatuses = []ConflictStatus{
	ConflictStatusPending,
	ConflictStatusResolved,
}

// IsValid reports whether the value is a known ConflictStatus.
func (c ConflictStatus) IsValid() bool {
	for _, candidate := range validConflictStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConflictStatus converts raw input into a ConflictStatus.
func ParseConflictStatus(value string) (ConflictStatus, error) {
	for _, candidate := range validConflictStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict status %q", value)
}

// ConflictResolution is the strategy applied to a rejected event.
type ConflictResolution string

const (
	ResolutionKeepMine   ConflictResolution = "keep_mine"
	ResolutionTakeTheirs ConflictResolution = "take_theirs"
	ResolutionMerge      ConflictResolution = "merge"
	ResolutionNone       ConflictResolution = "none"
)

var validConflictResolutions = []ConflictResolution{
	ResolutionKeepMine,
	ResolutionTakeTheirs,
	ResolutionMerge,
	ResolutionNone,
}

// String implements fmt.Stringer.
func (c ConflictResolution) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ConflictResolution.
func (c ConflictResolution) IsValid() bool {
	for _, candidate := range validConflictResolutions {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConflictResolution converts raw input into a ConflictResolution.
func ParseConflictResolution(value string) (ConflictResolution, error) {
	for _, candidate := range validConflictResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict resolution %q", value)
}
