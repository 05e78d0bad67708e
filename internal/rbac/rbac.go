package rbac

type Role string
type Action string

const (
	RoleCitizen  Role = "citizen"
	RoleResolver Role = "resolver"
	RoleAdmin    Role = "admin"
)

// Actions that are not tied to a particular resource.
const (
	ActionReport   Action = "report"
	ActionModerate Action = "moderate"
	ActionResolve  Action = "resolve"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleResolver:
		return action == ActionReport || action == ActionResolve
	case RoleCitizen:
		return action == ActionReport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCitizen, RoleResolver, RoleAdmin:
		return Role(role)
	default:
		return RoleCitizen
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleCitizen, RoleResolver, RoleAdmin:
		return true
	default:
		return false
	}
}
