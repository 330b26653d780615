package provision

import (
	"context"

	"github.com/edvin/agentctl/internal/enterprise"
)

// Directory is the slice of the cluster admin API the reconciler needs.
// *enterprise.Client satisfies it; tests substitute an in-memory fake so
// the decision logic runs without a network.
type Directory interface {
	Ping(ctx context.Context) bool

	ListACLs(ctx context.Context) ([]enterprise.ACL, error)
	ListRoles(ctx context.Context) ([]enterprise.Role, error)
	ListUsers(ctx context.Context) ([]enterprise.User, error)
	ListDatabases(ctx context.Context) ([]enterprise.Database, error)

	CreateACL(ctx context.Context, name, rules string) (*enterprise.ACL, error)
	CreateRole(ctx context.Context, name, management string) (*enterprise.Role, error)
	CreateUser(ctx context.Context, email, password, name string, roleUIDs []int) (*enterprise.User, error)

	DeleteACL(ctx context.Context, uid int) error
	DeleteRole(ctx context.Context, uid int) error
	DeleteUser(ctx context.Context, uid int) error

	PutDatabasePermissions(ctx context.Context, dbUID int, perms []enterprise.Permission) bool
}

var _ Directory = (*enterprise.Client)(nil)
