package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

func roleRank(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// HasAtLeast reports whether any of roles ranks at or above required.
// Unknown roles rank below viewer and never satisfy anything.
func HasAtLeast(roles []string, required string) bool {
	want := roleRank(required)
	if want == 0 {
		return false
	}
	for _, role := range roles {
		if roleRank(role) >= want {
			return true
		}
	}
	return false
}

// RequiredRole is the least role that may perform r. Reads and Dockerfile
// previews need viewer; anything that starts cluster work needs editor.
func RequiredRole(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	}
	if r.Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/dockerfile") {
		return RoleViewer
	}
	return RoleEditor
}

type AuthorizeFunc func(r *http.Request, identity Identity) error

// RoleAuthorizer admits identities holding RequiredRole(r).
func RoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if !HasAtLeast(identity.Roles, RequiredRole(r)) {
			return ErrForbidden
		}
		return nil
	}
}
