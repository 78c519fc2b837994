package access

var allResources = []Resource{ResourceBlog, ResourceUser, ResourceAuthenticator, ResourceSession, ResourceAuditLog}
var allActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

func every(scope Scope) []Permission {
	out := make([]Permission, 0, len(allResources)*len(allActions))
	for _, r := range allResources {
		for _, a := range allActions {
			out = append(out, Permission{Resource: r, Action: a, Scope: scope})
		}
	}
	return out
}

// selfService is what any signed-in account may do to itself.
var selfService = []Permission{
	{ResourceUser, ActionRead, ScopeOwn},
	{ResourceUser, ActionUpdate, ScopeOwn},
	{ResourceUser, ActionDelete, ScopeOwn},
	{ResourceAuthenticator, ActionCreate, ScopeOwn},
	{ResourceAuthenticator, ActionRead, ScopeOwn},
	{ResourceAuthenticator, ActionDelete, ScopeOwn},
	{ResourceSession, ActionRead, ScopeOwn},
	{ResourceSession, ActionDelete, ScopeOwn},
}

var table = map[Role][]Permission{
	RoleAdmin: every(ScopeAny),
	RoleEditor: append([]Permission{
		{ResourceBlog, ActionCreate, ScopeOwn},
		{ResourceBlog, ActionRead, ScopeAny},
		{ResourceBlog, ActionUpdate, ScopeOwn},
		{ResourceBlog, ActionDelete, ScopeOwn},
	}, selfService...),
	RoleMember: append([]Permission{
		{ResourceBlog, ActionRead, ScopeAny},
	}, selfService...),
}

// Grants returns a copy of the permissions held by role.
func Grants(role Role) []Permission {
	src := table[role]
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

func grants(role Role, p Permission) bool {
	for _, g := range table[role] {
		if g == p {
			return true
		}
	}
	return false
}
