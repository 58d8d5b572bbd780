// Package rbac maps GitHub collaborator permissions onto access decisions.
package rbac

import (
	"errors"
	"strings"
)

var (
	// ErrPermissionQuery is a transport failure or unexpected status while
	// reading a collaborator's permission.
	ErrPermissionQuery = errors.New("permission query failed")
	// ErrAccessDenied marks an explicit negative answer (none, 401, 403, 404).
	ErrAccessDenied = errors.New("access denied")
)

// PermissionLevel is a collaborator's access tier on a repository. Levels are
// ordered: every level grants what the levels below it grant.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionRead
	PermissionTriage
	PermissionWrite
	PermissionMaintain
	PermissionAdmin
)

var permissionNames = [...]string{
	PermissionNone:     "none",
	PermissionRead:     "read",
	PermissionTriage:   "triage",
	PermissionWrite:    "write",
	PermissionMaintain: "maintain",
	PermissionAdmin:    "admin",
}

func (p PermissionLevel) String() string {
	if p < PermissionNone || p > PermissionAdmin {
		return "unknown"
	}
	return permissionNames[p]
}

// AtLeast reports whether p grants everything min grants.
func (p PermissionLevel) AtLeast(min PermissionLevel) bool {
	return p >= min
}

// GrantsAccess is the repository access policy: anything above none.
func (p PermissionLevel) GrantsAccess() bool {
	return p > PermissionNone
}

// ParsePermissionLevel maps a GitHub permission string onto a level. GitHub's
// legacy "pull"/"push" spellings are accepted. ok is false for anything else.
func ParsePermissionLevel(s string) (PermissionLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return PermissionNone, true
	case "read", "pull":
		return PermissionRead, true
	case "triage":
		return PermissionTriage, true
	case "write", "push":
		return PermissionWrite, true
	case "maintain":
		return PermissionMaintain, true
	case "admin":
		return PermissionAdmin, true
	default:
		return PermissionNone, false
	}
}

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
