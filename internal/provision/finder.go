package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/agentctl/internal/enterprise"
)

// DefaultUserAliases are the name/email patterns an agent's user may
// have been created under. %s expands to the agent name. The list is
// data, not logic: deployments with other naming conventions override it
// without touching the reconciler.
var DefaultUserAliases = []string{"%s", "%s@example.com", "%s@re.demo"}

// State classifies how much of an agent's identity triple exists.
type State int

const (
	StateAbsent State = iota
	StatePartial
	StateComplete
)

// Components holds whichever of the agent's identity resources were
// found on the cluster.
type Components struct {
	ACL  *enterprise.ACL
	Role *enterprise.Role
	User *enterprise.User
}

func (c Components) State() State {
	n := 0
	if c.ACL != nil {
		n++
	}
	if c.Role != nil {
		n++
	}
	if c.User != nil {
		n++
	}
	switch n {
	case 0:
		return StateAbsent
	case 3:
		return StateComplete
	default:
		return StatePartial
	}
}

// Missing names the absent resource kinds in creation order.
func (c Components) Missing() []string {
	var missing []string
	if c.ACL == nil {
		missing = append(missing, "acl")
	}
	if c.Role == nil {
		missing = append(missing, "role")
	}
	if c.User == nil {
		missing = append(missing, "user")
	}
	return missing
}

// ACLName returns the fixed ACL name for an agent.
func ACLName(agent string) string { return agent + "-acl" }

// RoleName returns the fixed role name for an agent.
func RoleName(agent string) string { return agent + "-role" }

// FindAgent looks up the agent's ACL, role, and user with three
// independent listings. A failed listing is logged and treated as "not
// found": partial API degradation must not stop repair from recreating
// the unreachable kind.
func FindAgent(ctx context.Context, dir Directory, agent string, aliases []string, logger zerolog.Logger) Components {
	var found Components

	if acls, err := dir.ListACLs(ctx); err != nil {
		logger.Warn().Err(err).Msg("ACL lookup degraded, treating as not found")
	} else {
		name := ACLName(agent)
		for i := range acls {
			if acls[i].Name == name {
				found.ACL = &acls[i]
				break
			}
		}
	}

	if roles, err := dir.ListRoles(ctx); err != nil {
		logger.Warn().Err(err).Msg("role lookup degraded, treating as not found")
	} else {
		name := RoleName(agent)
		for i := range roles {
			if roles[i].Name == name {
				found.Role = &roles[i]
				break
			}
		}
	}

	if users, err := dir.ListUsers(ctx); err != nil {
		logger.Warn().Err(err).Msg("user lookup degraded, treating as not found")
	} else {
		for i := range users {
			if matchesUser(&users[i], agent, aliases) {
				found.User = &users[i]
				break
			}
		}
	}

	return found
}

// matchesUser is the single predicate deciding whether an existing user
// account belongs to the agent. Both the account name and email are
// checked against every expanded alias.
func matchesUser(u *enterprise.User, agent string, aliases []string) bool {
	if len(aliases) == 0 {
		aliases = DefaultUserAliases
	}
	for _, pattern := range aliases {
		candidate := fmt.Sprintf(pattern, agent)
		if u.Name == candidate || u.Email == candidate {
			return true
		}
	}
	return false
}
