// Package ticket provides status, role, and lifecycle inference over beads
// issues, plus the idempotent changeset state mutator.
//
// Everything here except the mutator is a pure function: raw issue payloads
// in, enum values and reason strings out. Decision logic elsewhere consumes
// these instead of poking at labels directly.
package ticket

// CanonicalStatus is the canonical ticket lifecycle status.
type CanonicalStatus string

const (
	StatusDeferred   CanonicalStatus = "deferred"
	StatusOpen       CanonicalStatus = "open"
	StatusInProgress CanonicalStatus = "in_progress"
	StatusBlocked    CanonicalStatus = "blocked"
	StatusClosed     CanonicalStatus = "closed"
	StatusUnknown    CanonicalStatus = ""
)

// CanonicalizeStatus normalizes a raw status string, accepting legacy
// aliases on read. Unrecognized values map to StatusUnknown.
func CanonicalizeStatus(raw string) CanonicalStatus {
	switch raw {
	case "deferred", "planned":
		return StatusDeferred
	case "open", "ready":
		return StatusOpen
	case "in_progress", "hooked":
		return StatusInProgress
	case "blocked":
		return StatusBlocked
	case "closed", "done":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether the status is closed.
func (s CanonicalStatus) IsTerminal() bool {
	return s == StatusClosed
}
