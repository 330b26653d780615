package enterprise

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
)

// Client talks to one cluster's admin REST API. It is stateless; every
// call hits the remote, which is the source of truth.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the given endpoint. Certificate
// verification is skipped unless verifySSL is set; cluster admin APIs
// ship with self-signed certificates in lab setups, so insecure is the
// deliberate default and production callers opt in to verification.
func NewClient(endpoint, username, password string, verifySSL bool, logger zerolog.Logger) *Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verifySSL}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger.With().Str("component", "enterprise-client").Logger(),
	}
}

// Endpoint returns the normalized base URL the client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping reports whether the admin API answers an authenticated request.
func (c *Client) Ping(ctx context.Context) bool {
	if _, err := c.get(ctx, "/v1/bdbs"); err != nil {
		c.logger.Warn().Err(err).Msg("connectivity test failed")
		return false
	}
	return true
}

// ListACLs returns every Redis ACL defined on the cluster.
func (c *Client) ListACLs(ctx context.Context) ([]ACL, error) {
	var acls []ACL
	if err := c.getJSON(ctx, "/v1/redis_acls", &acls); err != nil {
		return nil, err
	}
	return acls, nil
}

// ListRoles returns every role defined on the cluster.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := c.getJSON(ctx, "/v1/roles", &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// ListUsers returns every user account on the cluster.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getJSON(ctx, "/v1/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListDatabases returns every database with its permission entries.
func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	var dbs []Database
	if err := c.getJSON(ctx, "/v1/bdbs", &dbs); err != nil {
		return nil, err
	}
	return dbs, nil
}

// CreateACL creates a named ACL. A 409 from the remote surfaces as
// *ConflictError.
func (c *Client) CreateACL(ctx context.Context, name, rules string) (*ACL, error) {
	var acl ACL
	body := map[string]any{"name": name, "acl": rules}
	if err := c.postJSON(ctx, "/v1/redis_acls", "ACL", name, body, &acl); err != nil {
		return nil, err
	}
	return &acl, nil
}

// CreateRole creates a role with the given management level.
func (c *Client) CreateRole(ctx context.Context, name, management string) (*Role, error) {
	var role Role
	body := map[string]any{"name": name, "management": management}
	if err := c.postJSON(ctx, "/v1/roles", "role", name, body, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateUser creates a user bound to the given roles.
func (c *Client) CreateUser(ctx context.Context, email, password, name string, roleUIDs []int) (*User, error) {
	var user User
	body := map[string]any{
		"email":     email,
		"password":  password,
		"name":      name,
		"role_uids": roleUIDs,
	}
	if err := c.postJSON(ctx, "/v1/users", "user", name, body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteACL removes an ACL by uid.
func (c *Client) DeleteACL(ctx context.Context, uid int) error {
	return c.delete(ctx, fmt.Sprintf("/v1/redis_acls/%d", uid))
}

// DeleteRole removes a role by uid.
func (c *Client) DeleteRole(ctx context.Context, uid int) error {
	return c.delete(ctx, fmt.Sprintf("/v1/roles/%d", uid))
}

// DeleteUser removes a user by uid.
func (c *Client) DeleteUser(ctx context.Context, uid int) error {
	return c.delete(ctx, fmt.Sprintf("/v1/users/%d", uid))
}

// PutDatabasePermissions replaces a database's permission list. Unlike
// the other calls it reports failure as false instead of an error: one
// database's rejected update must not abort the rest of the batch, so
// the caller tallies the result and moves on. Diagnostic detail goes to
// the log.
func (c *Client) PutDatabasePermissions(ctx context.Context, dbUID int, perms []Permission) bool {
	path := fmt.Sprintf("/v1/bdbs/%d", dbUID)
	payload := struct {
		Permissions []Permission `json:"roles_permissions"`
	}{Permissions: perms}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Int("db_uid", dbUID).Msg("marshal permissions")
		return false
	}

	resp, body, err := c.do(ctx, http.MethodPut, path, data)
	if err != nil {
		c.logger.Warn().Err(err).Int("db_uid", dbUID).Msg("permission update request failed")
		return false
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("db_uid", dbUID).
			Int("status", resp.StatusCode).
			Str("response", string(body)).
			Msg("permission update rejected")
		return false
	}
	return true
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(http.MethodGet, path, resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, path, kind, name string, payload any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", kind, err)
	}
	resp, body, err := c.do(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		return &ConflictError{Kind: kind, Name: name}
	}
	if resp.StatusCode != http.StatusOK {
		return statusErr(http.MethodPost, path, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, body, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return statusErr(http.MethodDelete, path, resp.StatusCode, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp, respBody, nil
}
