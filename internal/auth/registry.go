// Package auth holds the governance state consulted before any operation
// reaches the pool core: the manager, the pending manager of a two-step
// transfer, role grants and the pause flag. The engine performs the actual
// capability checks; this package only answers who holds what.
package auth

import (
	"sort"

	"github.com/google/uuid"
)

type Role string

const (
	// RoleOperator may trigger batching operations: delegation sweeps,
	// batch closes, confirmations, compounding and recovery.
	RoleOperator Role = "operator"
)

func ValidRole(r Role) bool {
	return r == RoleOperator
}

// Registry is the governance state. Owned by the core goroutine.
type Registry struct {
	manager        uuid.UUID
	pendingManager uuid.UUID
	roles          map[Role]map[uuid.UUID]struct{}
	paused         bool
}

func NewRegistry(manager uuid.UUID) *Registry {
	return &Registry{
		manager: manager,
		roles:   make(map[Role]map[uuid.UUID]struct{}),
	}
}

func (r *Registry) Manager() uuid.UUID {
	return r.manager
}

func (r *Registry) PendingManager() uuid.UUID {
	return r.pendingManager
}

func (r *Registry) Paused() bool {
	return r.paused
}

func (r *Registry) IsManager(actor uuid.UUID) bool {
	return actor != uuid.Nil && actor == r.manager
}

func (r *Registry) HasRole(role Role, actor uuid.UUID) bool {
	members, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = members[actor]
	return ok
}

// Grant adds actor to role. Idempotent.
func (r *Registry) Grant(role Role, actor uuid.UUID) {
	members, ok := r.roles[role]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		r.roles[role] = members
	}
	members[actor] = struct{}{}
}

// Revoke removes actor from role. Idempotent.
func (r *Registry) Revoke(role Role, actor uuid.UUID) {
	members, ok := r.roles[role]
	if !ok {
		return
	}
	delete(members, actor)
	if len(members) == 0 {
		delete(r.roles, role)
	}
}

// ProposeManager starts a two-step transfer. The current manager keeps
// control until the proposed manager accepts.
func (r *Registry) ProposeManager(next uuid.UUID) {
	r.pendingManager = next
}

// AcceptManager completes the transfer. The caller must have verified the
// accepting actor is the pending manager.
func (r *Registry) AcceptManager() {
	r.manager = r.pendingManager
	r.pendingManager = uuid.Nil
}

func (r *Registry) SetPaused(paused bool) {
	r.paused = paused
}

type RoleSnapshot struct {
	Role    Role        `json:"role"`
	Members []uuid.UUID `json:"members"`
}

type RegistrySnapshot struct {
	Manager        uuid.UUID      `json:"manager"`
	PendingManager uuid.UUID      `json:"pending_manager"`
	Roles          []RoleSnapshot `json:"roles"`
	Paused         bool           `json:"paused"`
}

func (r *Registry) Snapshot() RegistrySnapshot {
	snap := RegistrySnapshot{
		Manager:        r.manager,
		PendingManager: r.pendingManager,
		Paused:         r.paused,
		Roles:          make([]RoleSnapshot, 0, len(r.roles)),
	}
	for role, members := range r.roles {
		rs := RoleSnapshot{Role: role, Members: make([]uuid.UUID, 0, len(members))}
		for m := range members {
			rs.Members = append(rs.Members, m)
		}
		sort.Slice(rs.Members, func(i, j int) bool {
			return rs.Members[i].String() < rs.Members[j].String()
		})
		snap.Roles = append(snap.Roles, rs)
	}
	sort.Slice(snap.Roles, func(i, j int) bool {
		return snap.Roles[i].Role < snap.Roles[j].Role
	})
	return snap
}

func RestoreRegistry(snap RegistrySnapshot) *Registry {
	r := NewRegistry(snap.Manager)
	r.pendingManager = snap.PendingManager
	r.paused = snap.Paused
	for _, rs := range snap.Roles {
		for _, m := range rs.Members {
			r.Grant(rs.Role, m)
		}
	}
	return r
}
