package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/agentctl/internal/enterprise"
)

// fakeDir is an in-memory Directory. It records every mutation in ops
// (ordered, as "verb:kind:name") so tests can assert dependency order.
type fakeDir struct {
	acls  []enterprise.ACL
	roles []enterprise.Role
	users []enterprise.User
	dbs   []enterprise.Database

	nextUID int
	ops     []string

	pingFails bool

	// Remaining conflicts per resource kind. When a conflict counter
	// hits zero the resource appears in the listing, simulating a
	// concurrent creation the reconciler should adopt.
	aclConflicts  int
	roleConflicts int
	userConflicts int

	// Per-kind counts of list calls that still show a deleted resource,
	// simulating propagation lag.
	userLinger int
	lingered   []enterprise.User

	putFail map[int]bool

	listACLsErr  error
	listRolesErr error
	listUsersErr error
	listDBsErr   error
}

func newFakeDir() *fakeDir {
	return &fakeDir{nextUID: 1, putFail: map[int]bool{}}
}

func (f *fakeDir) uid() int {
	u := f.nextUID
	f.nextUID++
	return u
}

func (f *fakeDir) addDatabase(name string, perms ...enterprise.Permission) *enterprise.Database {
	f.dbs = append(f.dbs, enterprise.Database{UID: f.uid(), Name: name, Permissions: perms})
	return &f.dbs[len(f.dbs)-1]
}

func (f *fakeDir) Ping(ctx context.Context) bool { return !f.pingFails }

func (f *fakeDir) ListACLs(ctx context.Context) ([]enterprise.ACL, error) {
	if f.listACLsErr != nil {
		return nil, f.listACLsErr
	}
	return append([]enterprise.ACL{}, f.acls...), nil
}

func (f *fakeDir) ListRoles(ctx context.Context) ([]enterprise.Role, error) {
	if f.listRolesErr != nil {
		return nil, f.listRolesErr
	}
	return append([]enterprise.Role{}, f.roles...), nil
}

func (f *fakeDir) ListUsers(ctx context.Context) ([]enterprise.User, error) {
	if f.listUsersErr != nil {
		return nil, f.listUsersErr
	}
	users := append([]enterprise.User{}, f.users...)
	if len(f.lingered) > 0 {
		if f.userLinger > 0 {
			f.userLinger--
			users = append(users, f.lingered...)
		} else {
			f.lingered = nil
		}
	}
	return users, nil
}

func (f *fakeDir) ListDatabases(ctx context.Context) ([]enterprise.Database, error) {
	if f.listDBsErr != nil {
		return nil, f.listDBsErr
	}
	return append([]enterprise.Database{}, f.dbs...), nil
}

func (f *fakeDir) CreateACL(ctx context.Context, name, rules string) (*enterprise.ACL, error) {
	f.ops = append(f.ops, "create:acl:"+name)
	if f.aclConflicts > 0 {
		f.aclConflicts--
		if f.aclConflicts == 0 {
			f.acls = append(f.acls, enterprise.ACL{UID: f.uid(), Name: name, Rules: rules})
		}
		return nil, &enterprise.ConflictError{Kind: "ACL", Name: name}
	}
	f.acls = append(f.acls, enterprise.ACL{UID: f.uid(), Name: name, Rules: rules})
	return &f.acls[len(f.acls)-1], nil
}

func (f *fakeDir) CreateRole(ctx context.Context, name, management string) (*enterprise.Role, error) {
	f.ops = append(f.ops, "create:role:"+name)
	if f.roleConflicts > 0 {
		f.roleConflicts--
		return nil, &enterprise.ConflictError{Kind: "role", Name: name}
	}
	f.roles = append(f.roles, enterprise.Role{UID: f.uid(), Name: name, Management: management})
	return &f.roles[len(f.roles)-1], nil
}

func (f *fakeDir) CreateUser(ctx context.Context, email, password, name string, roleUIDs []int) (*enterprise.User, error) {
	f.ops = append(f.ops, "create:user:"+name)
	if f.userConflicts > 0 {
		f.userConflicts--
		return nil, &enterprise.ConflictError{Kind: "user", Name: name}
	}
	f.users = append(f.users, enterprise.User{
		UID: f.uid(), Name: name, Email: email, RoleUIDs: append([]int{}, roleUIDs...),
	})
	return &f.users[len(f.users)-1], nil
}

func (f *fakeDir) DeleteACL(ctx context.Context, uid int) error {
	for i, acl := range f.acls {
		if acl.UID == uid {
			f.ops = append(f.ops, "delete:acl:"+acl.Name)
			f.acls = append(f.acls[:i], f.acls[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ACL uid %d not found", uid)
}

func (f *fakeDir) DeleteRole(ctx context.Context, uid int) error {
	for i, role := range f.roles {
		if role.UID == uid {
			f.ops = append(f.ops, "delete:role:"+role.Name)
			f.roles = append(f.roles[:i], f.roles[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("role uid %d not found", uid)
}

func (f *fakeDir) DeleteUser(ctx context.Context, uid int) error {
	for i, user := range f.users {
		if user.UID == uid {
			f.ops = append(f.ops, "delete:user:"+user.Name)
			if f.userLinger > 0 {
				f.lingered = append(f.lingered, user)
			}
			f.users = append(f.users[:i], f.users[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("user uid %d not found", uid)
}

func (f *fakeDir) PutDatabasePermissions(ctx context.Context, dbUID int, perms []enterprise.Permission) bool {
	f.ops = append(f.ops, fmt.Sprintf("put:db:%d", dbUID))
	if f.putFail[dbUID] {
		return false
	}
	for i := range f.dbs {
		if f.dbs[i].UID == dbUID {
			f.dbs[i].Permissions = append([]enterprise.Permission{}, perms...)
			return true
		}
	}
	return false
}

// instantPolicies removes real sleeping from a Manager under test.
func instantPolicies() []ManagerOption {
	noSleep := func(time.Duration) {}
	return []ManagerOption{
		WithRetryPolicy(RetryPolicy{Attempts: 5, Interval: time.Millisecond, Sleep: noSleep}),
		WithPollPolicy(PollPolicy{Attempts: 10, Interval: time.Millisecond, Sleep: noSleep}),
	}
}
