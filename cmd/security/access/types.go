package access

import (
	"fmt"
	"strings"
)

// Resource is a protected kind of object.
type Resource uint8

const (
	ResourceBlog Resource = iota + 1
	ResourceUser
	ResourceAuthenticator
	ResourceSession
	ResourceAuditLog
)

func (r Resource) String() string {
	switch r {
	case ResourceBlog:
		return "blogs"
	case ResourceUser:
		return "users"
	case ResourceAuthenticator:
		return "authenticators"
	case ResourceSession:
		return "sessions"
	case ResourceAuditLog:
		return "audit_log"
	default:
		return fmt.Sprintf("resource(%d)", uint8(r))
	}
}

// Action is an operation on a resource.
type Action uint8

const (
	ActionCreate Action = iota + 1
	ActionRead
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Scope limits a grant to objects the subject owns, or to any object.
type Scope uint8

const (
	ScopeOwn Scope = iota + 1
	ScopeAny
)

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeAny:
		return "any"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Permission is one grant.
type Permission struct {
	Resource Resource
	Action   Action
	Scope    Scope
}

func (p Permission) String() string {
	if p.Scope == ScopeAny {
		return p.Resource.String() + "." + p.Action.String() + ".any"
	}
	return p.Resource.String() + "." + p.Action.String()
}

// Role is a role tag stored on users.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleMember Role = "member"
)

// ParseRole maps a stored tag onto a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleEditor:
		return RoleEditor, true
	case RoleMember:
		return RoleMember, true
	default:
		return "", false
	}
}

// Subject is the already-authenticated caller.
type Subject struct {
	ID    string
	Roles []string
}
