// Package rbac maps organization roles to the actions they allow.
package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead          Action = "read"
	ActionComment       Action = "comment"
	ActionWrite         Action = "write"
	ActionInvite        Action = "invite"
	ActionManageMembers Action = "manage_members"
	ActionUpdateOrg     Action = "update_org"
	ActionDeleteOrg     Action = "delete_org"
)

// SystemAdmin is the users.role value that bypasses document access checks.
const SystemAdmin = "admin"

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	default:
		return false
	}
}

// HasAdminPermissions reports whether role is admin or owner.
func HasAdminPermissions(role string) bool {
	r := Role(role)
	return r == RoleAdmin || r == RoleOwner
}

// Valid reports whether role is a known organization role.
func Valid(role string) bool {
	switch Role(role) {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}
