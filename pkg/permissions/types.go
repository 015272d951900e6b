// Package permissions resolves a user's effective access to groups and
// devices from stored association rows. Every resolution re-reads the
// database, so there is no cache to invalidate when memberships change.
package permissions

// AccessLevel is a user's membership standing on a group or device
type AccessLevel int

const (
	// NoAccess means no association row exists
	NoAccess AccessLevel = iota
	// Member means an association row exists without the admin flag
	Member
	// Admin means an association row exists with the admin flag set
	Admin
)

func (l AccessLevel) String() string {
	switch l {
	case Member:
		return "member"
	case Admin:
		return "admin"
	default:
		return "none"
	}
}

// AtLeast reports whether the level grants at least the given level
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return l >= min
}

// Capabilities is the membership-management capability set for a user
// on a group or device
type Capabilities struct {
	CanAddUsers    bool `json:"canAddUsers"`
	CanRemoveUsers bool `json:"canRemoveUsers"`
	CanAddStations bool `json:"canAddStations"`
}

// AllCapabilities grants everything, used for global-write holders and admins
func AllCapabilities() Capabilities {
	return Capabilities{
		CanAddUsers:    true,
		CanRemoveUsers: true,
		CanAddStations: true,
	}
}

// NoCapabilities grants nothing
func NoCapabilities() Capabilities {
	return Capabilities{}
}
