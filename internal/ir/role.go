package ir

// Role is the part a node plays in the tree.
type Role uint8

const (
	// RoleSensing is an ordinary node that senses and forwards partial results.
	RoleSensing Role = iota

	// RoleBase is the root: it does not sense and finalizes aggregates.
	RoleBase
)

func (r Role) String() string {
	switch r {
	case RoleSensing:
		return "sensing"
	case RoleBase:
		return "base"
	default:
		return "unknown"
	}
}
