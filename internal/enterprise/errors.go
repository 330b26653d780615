package enterprise

import (
	"errors"
	"fmt"
)

// ConflictError reports an HTTP 409 from a create call: the remote
// already holds a resource with that name, possibly one whose deletion
// has not propagated yet.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists on the cluster", e.Kind, e.Name)
}

// StatusError is any non-conflict HTTP failure.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsConflict reports whether err is a name-collision conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func statusErr(method, path string, code int, body []byte) error {
	return &StatusError{Method: method, Path: path, Code: code, Body: string(body)}
}
