package domain

// Role is an authorization role attached to a credential.
type Role string

// Known roles. Elevated roles are granted only through activation codes.
const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// ValidRoles returns every known role.
func ValidRoles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin}
}

// IsValidRole reports whether r is one of the known roles. Matching is exact.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles() {
		if v == r {
			return true
		}
	}
	return false
}

// RoleNames converts roles to their string form for claims and responses.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
