package auth

// rolePermissions is the literal, totally-enumerated permission table from
// spec §3. Higher roles are a strict superset of lower roles; this is
// verified by TestRolePermissions_StrictSuperset rather than derived, so
// the table stays the single source of truth, constant and never
// dynamically granted.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleViewer: set(
		PermToolsRead,
		PermToolsLint,
		PermGraphQuery,
	),
	RoleDeveloper: set(
		PermToolsRead,
		PermToolsLint,
		PermToolsExecute,
		PermToolsTest,
		PermToolsGenerate,
		PermGraphQuery,
	),
	RoleAdmin: set(
		PermToolsRead,
		PermToolsLint,
		PermToolsExecute,
		PermToolsTest,
		PermToolsGenerate,
		PermGraphQuery,
		PermGraphUpsert,
		PermSystemAdmin,
	),
}

func set(perms ...Permission) map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return m
}

// Allow returns true iff the union of permissions across roles contains
// the requested permission. Unknown roles contribute no permissions.
func Allow(roles []Role, p Permission) bool {
	for _, r := range roles {
		if perms, ok := rolePermissions[r]; ok {
			if _, granted := perms[p]; granted {
				return true
			}
		}
	}
	return false
}

// PermissionsFor returns the permission set for a single role, for
// admin-visible introspection (e.g. a /admin/roles endpoint) and tests.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}
