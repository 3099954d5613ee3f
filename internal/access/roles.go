// Package access answers "what can the current user do right now" from the
// session user and the currently selected operating groups. Capabilities are
// recomputed on every mutation so UI gating never observes a stale matrix.
package access

import (
	"fmt"
	"strings"
)

// Role is a numeric permission tier. Higher grants more.
type Role int

const (
	RoleGuest  Role = 0
	RoleUser   Role = 1
	RoleHelper Role = 2
	RoleAdmin  Role = 3
	RoleOwner  Role = 4
)

var roleNames = map[Role]string{
	RoleGuest:  "GUEST",
	RoleUser:   "USER",
	RoleHelper: "HELPER",
	RoleAdmin:  "ADMIN",
	RoleOwner:  "OWNER",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ROLE(%d)", int(r))
}

// ParseRole maps a coarse role name onto its level. Matching is
// case-insensitive.
func ParseRole(name string) (Role, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for role, n := range roleNames {
		if n == upper {
			return role, nil
		}
	}
	return RoleGuest, fmt.Errorf("unknown role %q", name)
}

// User is the session identity the backend reports. Group role assignments
// map group IDs to the level held in that group.
type User struct {
	ID       string
	Username string
	Avatar   string

	// Owner and Admin are platform-wide flags that bypass group scoping.
	Owner bool
	Admin bool

	// GlobalLevel applies regardless of group selection.
	GlobalLevel Role

	Groups map[string]Role
}

// MaxGroupLevel returns the highest level held across all memberships.
func (u *User) MaxGroupLevel() Role {
	max := RoleGuest
	for _, level := range u.Groups {
		if level > max {
			max = level
		}
	}
	return max
}
