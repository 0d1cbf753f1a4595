package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"driveguard/internal/auth"
	"driveguard/internal/model"
	"driveguard/internal/store"
)

type tokenResponse struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token"`
	ExpiresAt string     `json:"expires_at"`
	User      model.User `json:"user"`
}

func (s *Server) issue(w http.ResponseWriter, status int, u model.User) {
	tok, exp, err := s.Auth.Tokens.Issue(u.ID, u.Email, u.OrganizationID, u.Role)
	if err != nil {
		s.Logger.Error("issue token failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, status, tokenResponse{Success: true, Token: tok, ExpiresAt: exp.UTC().Format("2006-01-02T15:04:05Z"), User: u})
}

// RegisterHandler creates a user and the organization it administers.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	ctx := r.Context()
	if _, err := s.Store.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	orgName := strings.TrimSpace(req.OrganizationName)
	if orgName == "" {
		orgName = req.Email
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	org, u, err := s.Store.Register(ctx, orgName, model.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
	})
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, store.ErrOrganizationTaken):
		writeError(w, http.StatusConflict, "organization already exists")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Logger.Info("user registered", zap.String("user_id", u.ID), zap.String("organization_id", org.ID))
	s.issue(w, http.StatusCreated, u)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	u, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPasswordHash(req.Password, u.PasswordHash)) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.issue(w, http.StatusOK, u)
}

// OrganizationHandler returns the caller's organization.
func (s *Server) OrganizationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	org, err := s.Store.GetOrganization(r.Context(), pr.OrgID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "organization": org})
}
