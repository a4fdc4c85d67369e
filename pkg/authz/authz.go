// Package authz holds the role-check collaborator contract used to gate
// privileged operations. Role semantics live in the surrounding system;
// this core only asks "what role does this caller have".
package authz

import "context"

// Roles known to the core. Anything else passes through untouched.
const (
	RoleFarmer = "Farmer"
	RoleSystem = "System"
)

// RoleChecker resolves a caller id to its role string.
type RoleChecker interface {
	Role(ctx context.Context, callerID string) (string, error)
}

// StaticRoles is a fixed caller→role map for tests and bootstrap setups.
type StaticRoles map[string]string

func (r StaticRoles) Role(_ context.Context, callerID string) (string, error) {
	return r[callerID], nil
}

// CanRecordHarvest reports whether a role may invoke harvest recording.
func CanRecordHarvest(role string) bool {
	return role == RoleFarmer || role == RoleSystem
}
