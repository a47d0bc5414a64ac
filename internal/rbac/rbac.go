// Package rbac maps a principal's standing in a channel to the actions it may take.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = "none"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionPost          Action = "post"
	ActionLeave         Action = "leave"
	ActionManageMembers Action = "manage_members"
	ActionManageAdmins  Action = "manage_admins"
	ActionModerate      Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionPost || action == ActionLeave
	default:
		return false
	}
}

// RoleIn derives the role from a channel's member and administrator sets.
func RoleIn(userID string, users, administrators []string) Role {
	for _, id := range administrators {
		if id == userID {
			return RoleAdmin
		}
	}
	for _, id := range users {
		if id == userID {
			return RoleMember
		}
	}
	return RoleNone
}
