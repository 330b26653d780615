package provision

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/edvin/agentctl/internal/enterprise"
)

// DefaultACLRules is the monitoring permission set granted when the
// caller supplies none.
const DefaultACLRules = "+@read +info +ping +config|get +client|list +memory +latency"

// Options carries the per-operation knobs. Zero values fall back to the
// monitoring defaults.
type Options struct {
	ACLRules       string
	RoleManagement string
	Email          string
	Password       string

	// DatabaseFilter is a regular expression matched against database
	// names (unanchored). Empty means every database.
	DatabaseFilter string

	// SkipExisting only changes how an already-bound database is
	// reported; a present binding is never rewritten either way, that
	// is owned by the idempotence guarantee.
	SkipExisting bool

	Force            bool
	SkipAllDatabases bool
	SkipUserCreation bool
}

func (o Options) aclRules() string {
	if o.ACLRules == "" {
		return DefaultACLRules
	}
	return o.ACLRules
}

func (o Options) roleManagement() string {
	if o.RoleManagement == "" {
		return enterprise.ManagementClusterMember
	}
	return o.RoleManagement
}

func (o Options) email(agent string) string {
	if o.Email == "" {
		return agent + "@example.com"
	}
	return o.Email
}

// Tally counts per-database outcomes of a reconciliation pass.
type Tally struct {
	Succeeded int
	Total     int
}

func (t Tally) AllSucceeded() bool { return t.Succeeded == t.Total }

func (t Tally) String() string { return fmt.Sprintf("%d/%d", t.Succeeded, t.Total) }

// Result reports what an operation resolved or created.
type Result struct {
	ACL  *enterprise.ACL
	Role *enterprise.Role
	User *enterprise.User

	// Databases is the permission reconciliation tally; zero when the
	// databases step was skipped.
	Databases Tally
}

// Manager drives agent provisioning against one cluster. The remote is
// treated as externally mutable: state is re-read wherever a decision
// depends on freshness rather than cached across steps.
type Manager struct {
	dir     Directory
	logger  zerolog.Logger
	retry   RetryPolicy
	poll    PollPolicy
	aliases []string
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy overrides the create-conflict retry schedule.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.retry = p }
}

// WithPollPolicy overrides the deletion-propagation wait schedule.
func WithPollPolicy(p PollPolicy) ManagerOption {
	return func(m *Manager) { m.poll = p }
}

// WithUserAliases replaces the patterns used to recognize an agent's
// existing user account.
func WithUserAliases(aliases []string) ManagerOption {
	return func(m *Manager) { m.aliases = aliases }
}

// NewManager creates a Manager over the given directory.
func NewManager(dir Directory, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:     dir,
		logger:  logger.With().Str("component", "provision").Logger(),
		retry:   DefaultRetryPolicy(),
		poll:    DefaultPollPolicy(),
		aliases: DefaultUserAliases,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create provisions the agent's full identity triple plus database
// bindings. Existing components fail the call unless opts.Force is set,
// in which case they are torn down (bindings cleaned, then user, role,
// ACL deleted with propagation waits) and rebuilt from scratch.
func (m *Manager) Create(ctx context.Context, agent string, opts Options) (*Result, error) {
	filter, err := compileFilter(opts.DatabaseFilter)
	if err != nil {
		return nil, err
	}

	found := FindAgent(ctx, m.dir, agent, m.aliases, m.logger)
	if found.State() != StateAbsent {
		if !opts.Force {
			return nil, &ProvisionedError{Agent: agent, Missing: found.Missing()}
		}
		if err := m.teardown(ctx, agent, found, filter); err != nil {
			return nil, err
		}
	}

	return m.build(ctx, agent, Components{}, opts, filter)
}

// Update reconciles database bindings for an agent whose ACL and role
// must already exist. Identity resources are never created or deleted
// here.
func (m *Manager) Update(ctx context.Context, agent string, opts Options) (*Result, error) {
	filter, err := compileFilter(opts.DatabaseFilter)
	if err != nil {
		return nil, err
	}

	acls, err := m.dir.ListACLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ACLs: %w", err)
	}
	roles, err := m.dir.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	res := &Result{}
	aclName := ACLName(agent)
	for i := range acls {
		if acls[i].Name == aclName {
			res.ACL = &acls[i]
			break
		}
	}
	roleName := RoleName(agent)
	for i := range roles {
		if roles[i].Name == roleName {
			res.Role = &roles[i]
			break
		}
	}

	if res.ACL == nil {
		return nil, fmt.Errorf("ACL %q for agent %q: %w", aclName, agent, ErrResourceNotFound)
	}
	if res.Role == nil {
		return nil, fmt.Errorf("role %q for agent %q: %w", roleName, agent, ErrResourceNotFound)
	}

	m.logger.Info().
		Str("agent", agent).
		Int("acl_uid", res.ACL.UID).
		Int("role_uid", res.Role.UID).
		Msg("updating database permissions for existing agent")

	res.Databases, err = m.EnsurePermissions(ctx, res.Role.UID, res.ACL.UID, filter, opts.SkipExisting)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Repair creates exactly the missing subset of the agent's identity
// triple, reusing present resources' uids, then reconciles bindings when
// both ACL and role are resolved. An entirely absent agent is an error;
// create is the right operation for that.
func (m *Manager) Repair(ctx context.Context, agent string, opts Options) (*Result, error) {
	filter, err := compileFilter(opts.DatabaseFilter)
	if err != nil {
		return nil, err
	}

	found := FindAgent(ctx, m.dir, agent, m.aliases, m.logger)
	if found.State() == StateAbsent {
		return nil, fmt.Errorf("agent %q: %w", agent, ErrNoComponents)
	}
	if missing := found.Missing(); len(missing) == 0 {
		m.logger.Info().Str("agent", agent).Msg("all components present, no repair needed")
		return &Result{ACL: found.ACL, Role: found.Role, User: found.User}, nil
	} else {
		m.logger.Info().Str("agent", agent).Strs("missing", missing).Msg("repairing missing components")
	}

	return m.build(ctx, agent, found, opts, filter)
}

// build creates whichever identity resources are absent from existing,
// in dependency order ACL -> role -> user, then reconciles database
// bindings. It backs both create (existing empty) and repair.
func (m *Manager) build(ctx context.Context, agent string, existing Components, opts Options, filter *regexp.Regexp) (*Result, error) {
	res := &Result{ACL: existing.ACL, Role: existing.Role, User: existing.User}

	if res.ACL == nil {
		name := ACLName(agent)
		acl, err := createWithRetry(m, ctx, "ACL", name,
			func(ctx context.Context) (*enterprise.ACL, error) {
				return m.dir.CreateACL(ctx, name, opts.aclRules())
			},
			func(ctx context.Context) (*enterprise.ACL, error) {
				acls, err := m.dir.ListACLs(ctx)
				if err != nil {
					return nil, err
				}
				for i := range acls {
					if acls[i].Name == name {
						return &acls[i], nil
					}
				}
				return nil, nil
			})
		if err != nil {
			return nil, err
		}
		res.ACL = acl
		m.logger.Info().Str("acl", name).Int("uid", acl.UID).Msg("ACL resolved")
	} else {
		m.logger.Info().Str("acl", res.ACL.Name).Int("uid", res.ACL.UID).Msg("using existing ACL")
	}

	if res.Role == nil {
		name := RoleName(agent)
		role, err := createWithRetry(m, ctx, "role", name,
			func(ctx context.Context) (*enterprise.Role, error) {
				return m.dir.CreateRole(ctx, name, opts.roleManagement())
			},
			func(ctx context.Context) (*enterprise.Role, error) {
				roles, err := m.dir.ListRoles(ctx)
				if err != nil {
					return nil, err
				}
				for i := range roles {
					if roles[i].Name == name {
						return &roles[i], nil
					}
				}
				return nil, nil
			})
		if err != nil {
			return nil, err
		}
		res.Role = role
		m.logger.Info().Str("role", name).Int("uid", role.UID).Msg("role resolved")
	} else {
		m.logger.Info().Str("role", res.Role.Name).Int("uid", res.Role.UID).Msg("using existing role")
	}

	switch {
	case opts.SkipUserCreation:
		m.logger.Info().Str("agent", agent).Msg("skipping user creation, reusing basic auth credentials")
	case res.User != nil:
		m.logger.Info().Str("user", res.User.Name).Int("uid", res.User.UID).Msg("using existing user")
	default:
		email := opts.email(agent)
		user, err := createWithRetry(m, ctx, "user", agent,
			func(ctx context.Context) (*enterprise.User, error) {
				return m.dir.CreateUser(ctx, email, opts.Password, agent, []int{res.Role.UID})
			},
			func(ctx context.Context) (*enterprise.User, error) {
				users, err := m.dir.ListUsers(ctx)
				if err != nil {
					return nil, err
				}
				for i := range users {
					if users[i].Name == agent {
						return &users[i], nil
					}
				}
				return nil, nil
			})
		if err != nil {
			return nil, err
		}
		res.User = user
		m.logger.Info().Str("user", agent).Int("uid", user.UID).Msg("user resolved")
	}

	if opts.SkipAllDatabases {
		m.logger.Info().Msg("skipping database permissions")
		return res, nil
	}

	tally, err := m.EnsurePermissions(ctx, res.Role.UID, res.ACL.UID, filter, opts.SkipExisting)
	if err != nil {
		return nil, err
	}
	res.Databases = tally
	return res, nil
}

// teardown removes the agent's existing resources ahead of a forced
// recreation: bindings first (needs both uids), then user, role, ACL.
// A delete request failure aborts; incomplete propagation only warns,
// the subsequent create retries absorb the lag.
func (m *Manager) teardown(ctx context.Context, agent string, found Components, filter *regexp.Regexp) error {
	if found.Role != nil && found.ACL != nil {
		m.logger.Info().
			Int("role_uid", found.Role.UID).
			Int("acl_uid", found.ACL.UID).
			Msg("cleaning up database permissions before recreation")
		if _, err := m.RemovePermissions(ctx, found.Role.UID, found.ACL.UID, filter); err != nil {
			m.logger.Warn().Err(err).Msg("database permission cleanup incomplete")
		}
	}

	if found.User != nil {
		if err := m.dir.DeleteUser(ctx, found.User.UID); err != nil {
			return fmt.Errorf("delete user %q: %w", found.User.Name, err)
		}
		m.awaitDeletion(ctx, "user", found.User.Name, func(ctx context.Context) (bool, error) {
			users, err := m.dir.ListUsers(ctx)
			if err != nil {
				return false, err
			}
			for i := range users {
				if users[i].Name == found.User.Name {
					return false, nil
				}
			}
			return true, nil
		})
	}

	if found.Role != nil {
		if err := m.dir.DeleteRole(ctx, found.Role.UID); err != nil {
			return fmt.Errorf("delete role %q: %w", found.Role.Name, err)
		}
		m.awaitDeletion(ctx, "role", found.Role.Name, func(ctx context.Context) (bool, error) {
			roles, err := m.dir.ListRoles(ctx)
			if err != nil {
				return false, err
			}
			for i := range roles {
				if roles[i].Name == found.Role.Name {
					return false, nil
				}
			}
			return true, nil
		})
	}

	if found.ACL != nil {
		if err := m.dir.DeleteACL(ctx, found.ACL.UID); err != nil {
			return fmt.Errorf("delete ACL %q: %w", found.ACL.Name, err)
		}
		m.awaitDeletion(ctx, "ACL", found.ACL.Name, func(ctx context.Context) (bool, error) {
			acls, err := m.dir.ListACLs(ctx)
			if err != nil {
				return false, err
			}
			for i := range acls {
				if acls[i].Name == found.ACL.Name {
					return false, nil
				}
			}
			return true, nil
		})
	}

	m.logger.Info().Str("agent", agent).Msg("existing components deleted")
	return nil
}

// awaitDeletion polls until the named resource drops out of the remote
// listing. The remote removes list entries asynchronously, so a create
// issued right after a delete can still collide. Listing errors consume
// an attempt. Exhaustion is only a warning: the create retry loop
// handles residual lag.
func (m *Manager) awaitDeletion(ctx context.Context, kind, name string, gone func(context.Context) (bool, error)) {
	for attempt := 1; attempt <= m.poll.Attempts; attempt++ {
		ok, err := gone(ctx)
		if err == nil && ok {
			return
		}
		if attempt < m.poll.Attempts {
			m.logger.Debug().
				Str("kind", kind).
				Str("name", name).
				Int("attempt", attempt).
				Int("max", m.poll.Attempts).
				Msg("waiting for deletion to propagate")
			m.poll.Sleep(m.poll.Interval)
		}
	}
	m.logger.Warn().Str("kind", kind).Str("name", name).Msg("deletion may not have propagated fully")
}

// createWithRetry runs a create call under the conflict-retry policy.
// Conflicts are retried with a fixed interval; on exhaustion the remote
// is re-queried and a resource with the expected name is adopted, the
// conflict then being read as a concurrent creation. Any other error
// aborts immediately.
func createWithRetry[T any](m *Manager, ctx context.Context, kind, name string,
	create func(context.Context) (*T, error),
	find func(context.Context) (*T, error),
) (*T, error) {
	var created *T
	err := m.retry.run(func(attempt int) (bool, error) {
		res, err := create(ctx)
		if err == nil {
			created = res
			return false, nil
		}
		if enterprise.IsConflict(err) {
			m.logger.Info().
				Str("kind", kind).
				Str("name", name).
				Int("attempt", attempt).
				Int("max", m.retry.Attempts).
				Msg("name still held, retrying")
			return true, err
		}
		return false, err
	})
	if err == nil {
		return created, nil
	}
	if !enterprise.IsConflict(err) {
		return nil, fmt.Errorf("create %s %q: %w", kind, name, err)
	}

	existing, findErr := find(ctx)
	if findErr == nil && existing != nil {
		m.logger.Info().Str("kind", kind).Str("name", name).Msg("adopting concurrently created resource")
		return existing, nil
	}
	return nil, fmt.Errorf("%s %q still exists after retries, use force to recreate: %w", kind, name, err)
}
