package api

import (
	"net/http"
	"strings"

	"driveguard/internal/auth"
)

// principal resolves the caller from the bearer token or, in dev mode, from
// X-User-Id / X-Org-Id / X-Role headers.
func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr, true
		}
		return auth.Principal{}, false
	}
	if !s.Auth.Dev() {
		return auth.Principal{}, false
	}
	org := r.Header.Get("X-Org-Id")
	if org == "" {
		return auth.Principal{}, false
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "member"
	}
	return auth.Principal{UserID: r.Header.Get("X-User-Id"), OrgID: org, Role: role}, true
}

// requireAuth writes 401 when the request carries no valid identity.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	pr, ok := s.principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return pr, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return pr, false
	}
	if !pr.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin required")
		return pr, false
	}
	return pr, true
}
