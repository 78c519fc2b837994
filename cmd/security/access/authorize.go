package access

import (
	"errors"
	"fmt"
)

// ErrForbidden is the kind carried by every Denied error.
var ErrForbidden = errors.New("forbidden")

// Denied is returned when a subject lacks the permission. Reason is safe to
// show to the caller.
type Denied struct {
	Resource Resource
	Action   Action
	Reason   string
}

func (e Denied) Error() string {
	return fmt.Sprintf("%v: %s", ErrForbidden, e.Reason)
}

func (e Denied) Unwrap() error { return ErrForbidden }

// IsDenied reports whether err is an authorization denial.
func IsDenied(err error) bool { return errors.Is(err, ErrForbidden) }

// Authorize allows the action when one of the subject's roles grants it on any
// object, or grants it on owned objects and ownerID is the subject. A create
// with an empty ownerID makes the subject the owner; for every other action
// an empty ownerID never matches.
func Authorize(sub Subject, resource Resource, action Action, ownerID string) error {
	if sub.ID == "" {
		return Denied{Resource: resource, Action: action, Reason: "not signed in"}
	}

	owns := ownerID == sub.ID
	if ownerID == "" {
		owns = action == ActionCreate
	}
	for _, tag := range sub.Roles {
		role, ok := ParseRole(tag)
		if !ok {
			continue
		}
		if grants(role, Permission{resource, action, ScopeAny}) {
			return nil
		}
		if owns && grants(role, Permission{resource, action, ScopeOwn}) {
			return nil
		}
	}

	return Denied{
		Resource: resource,
		Action:   action,
		Reason:   fmt.Sprintf("missing permission %s", Permission{resource, action, ScopeOwn}),
	}
}
