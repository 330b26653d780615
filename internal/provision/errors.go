package provision

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoComponents: repair was asked for an agent with nothing on
	// the cluster; create is the right operation.
	ErrNoComponents = errors.New("no existing components found")

	// ErrResourceNotFound: update requires the agent's ACL and role to
	// already exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidFilter: the database filter did not compile; nothing
	// was mutated.
	ErrInvalidFilter = errors.New("invalid database filter")
)

// ProvisionedError is returned by create without force when the agent
// already holds resources on the cluster. Missing lists the absent kinds
// when the provisioning is partial.
type ProvisionedError struct {
	Agent   string
	Missing []string
}

func (e *ProvisionedError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("agent %q is partially provisioned (missing: %s); use force to recreate or run repair",
			e.Agent, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("agent %q is already fully provisioned; use force to recreate or run update", e.Agent)
}
