package enterprise

// ACL is a named Redis command rule set attachable to a role through a
// database permission entry.
type ACL struct {
	UID   int    `json:"uid"`
	Name  string `json:"name"`
	Rules string `json:"acl"`
}

// Role groups users under a cluster management level.
type Role struct {
	UID        int    `json:"uid"`
	Name       string `json:"name"`
	Management string `json:"management"`
}

// User is a cluster account. Password is write-only; the API never
// returns it.
type User struct {
	UID      int    `json:"uid"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	RoleUIDs []int  `json:"role_uids"`
}

// Permission grants a role the rule set of an ACL on one database.
type Permission struct {
	RoleUID int `json:"role_uid"`
	ACLUID  int `json:"redis_acl_uid"`
}

// Database is a cluster database (bdb) with its permission entries.
// This tool never creates or deletes databases, it only rewrites the
// permission list.
type Database struct {
	UID         int          `json:"uid"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"roles_permissions"`
}

// Management levels accepted for roles.
const (
	ManagementAdmin         = "admin"
	ManagementClusterMember = "cluster_member"
	ManagementDBMember      = "db_member"
	ManagementNone          = "none"
)
