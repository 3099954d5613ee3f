package access

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Model holds the current session user and the active group selection, and
// derives the effective level and capability matrix from them. All derived
// state is recomputed inside every mutation, never cached across them.
type Model struct {
	logger zerolog.Logger

	// OnChange, when set, runs after every mutation with the fresh
	// capability matrix. Set before first use; not guarded against
	// concurrent reassignment.
	OnChange func(Capabilities)

	mu           sync.Mutex
	user         *User
	activeGroups []string
	level        Role
	caps         Capabilities
}

// NewModel creates an empty model; capabilities start at all-false.
func NewModel(logger zerolog.Logger) *Model {
	m := &Model{logger: logger.With().Str("component", "access").Logger()}
	m.recomputeLocked()
	return m
}

// SetUser installs the session user and revalidates persistedGroups against
// the user's current memberships: stale IDs are dropped, and when none
// survive the first membership (by sorted group ID) is auto-selected.
// Platform owners/admins get no group selection; they are not group-scoped.
func (m *Model) SetUser(user *User, persistedGroups []string) {
	m.mu.Lock()
	m.user = user
	if user == nil || user.Owner || user.Admin {
		m.activeGroups = nil
	} else {
		m.activeGroups = m.revalidateLocked(persistedGroups)
	}
	m.recomputeLocked()
	caps := m.caps
	m.mu.Unlock()

	m.notify(caps)
}

// SetActiveGroups replaces the active group selection. Unknown group IDs
// are dropped.
func (m *Model) SetActiveGroups(groupIDs []string) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return
	}
	valid := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		if _, ok := m.user.Groups[id]; ok {
			valid = append(valid, id)
		} else {
			m.logger.Debug().Str("group", id).Msg("Dropping active group without membership")
		}
	}
	m.activeGroups = valid
	m.recomputeLocked()
	caps := m.caps
	m.mu.Unlock()

	m.notify(caps)
}

// Clear resets the model to the signed-out state.
func (m *Model) Clear() {
	m.mu.Lock()
	m.user = nil
	m.activeGroups = nil
	m.recomputeLocked()
	caps := m.caps
	m.mu.Unlock()

	m.notify(caps)
}

// User returns the current session user, if any.
func (m *Model) User() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

// ActiveGroups returns a copy of the active group selection.
func (m *Model) ActiveGroups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.activeGroups))
	copy(out, m.activeGroups)
	return out
}

// EffectiveLevel returns the permission tier currently in force.
func (m *Model) EffectiveLevel() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Capabilities returns the current capability matrix.
func (m *Model) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// HasRole is the coarse role check kept for older call sites. OWNER demands
// the literal owner flag and ADMIN owner-or-admin; lower tiers compare
// against the effective group level, or against the best level across all
// memberships when no group is selected.
func (m *Model) HasRole(name string) bool {
	required, err := ParseRole(name)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Role check against unknown role")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil {
		return required == RoleGuest
	}

	switch required {
	case RoleOwner:
		return m.user.Owner
	case RoleAdmin:
		return m.user.Owner || m.user.Admin
	}

	if m.user.Owner || m.user.Admin {
		return true
	}

	level := m.level
	if len(m.activeGroups) == 0 {
		level = m.user.GlobalLevel
		if g := m.user.MaxGroupLevel(); g > level {
			level = g
		}
	}
	return level >= required
}

// revalidateLocked filters persisted against current memberships, falling
// back to the first membership when nothing survives.
func (m *Model) revalidateLocked(persisted []string) []string {
	valid := make([]string, 0, len(persisted))
	for _, id := range persisted {
		if _, ok := m.user.Groups[id]; ok {
			valid = append(valid, id)
		} else {
			m.logger.Debug().Str("group", id).Msg("Discarding persisted group no longer held")
		}
	}
	if len(valid) > 0 {
		return valid
	}

	ids := make([]string, 0, len(m.user.Groups))
	for id := range m.user.Groups {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return ids[:1]
}

func (m *Model) recomputeLocked() {
	m.level = m.effectiveLevelLocked()
	m.caps = deriveCapabilities(m.level, m.user != nil && m.user.Owner, m.user != nil && m.user.Admin)
}

func (m *Model) notify(caps Capabilities) {
	if m.OnChange != nil {
		m.OnChange(caps)
	}
}

// effectiveLevelLocked is the max of the global level and the level held in
// any active group; owner/admin flags short-circuit to the top tier.
func (m *Model) effectiveLevelLocked() Role {
	if m.user == nil {
		return RoleGuest
	}
	if m.user.Owner {
		return RoleOwner
	}
	if m.user.Admin {
		return RoleAdmin
	}

	level := m.user.GlobalLevel
	for _, id := range m.activeGroups {
		if l, ok := m.user.Groups[id]; ok && l > level {
			level = l
		}
	}
	return level
}
