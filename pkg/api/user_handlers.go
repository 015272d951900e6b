package api

import (
	"errors"
	"net/http"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/auth"
	"github.com/cacophony-project/cacophony-api/pkg/httputil"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

type registerUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerUser handles POST /api/v1/users
func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}
	if err := s.deps.Passwords.Validate(req.Password); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	hash, err := s.deps.Passwords.Hash(req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	user, err := s.deps.Store.CreateUser(r.Context(), &NewUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.IssueUserToken(user.ID, user.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      user.ID,
		Action:       audit.ActionUserRegister,
		ResourceType: "user",
		ResourceID:   user.ID,
	})

	httputil.WriteCreated(w, "user registered", httputil.Envelope{
		"id":       user.ID,
		"username": user.Username,
		"token":    "JWT " + token,
	})
}

type authenticateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authenticateUser handles POST /api/v1/users/authenticate
func (s *Server) authenticateUser(w http.ResponseWriter, r *http.Request) {
	var req authenticateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	user, err := s.deps.Store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			// do not reveal whether the account exists
			httputil.WriteUnauthorized(w, "invalid username or password")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Passwords.Compare(user.PasswordHash, req.Password); err != nil {
		if errors.Is(err, auth.ErrWrongPassword) {
			observability.FromContext(r.Context()).
				WithField("username", req.Username).
				Warn("failed authentication attempt")
			httputil.WriteUnauthorized(w, "invalid username or password")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.IssueUserToken(user.ID, user.Username)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.record(audit.Entry{
		ActorType:    audit.ActorUser,
		ActorID:      user.ID,
		Action:       audit.ActionUserAuthenticate,
		ResourceType: "user",
		ResourceID:   user.ID,
	})

	httputil.WriteSuccess(w, "authenticated", httputil.Envelope{
		"id":       user.ID,
		"username": user.Username,
		"token":    "JWT " + token,
	})
}

// currentUser handles GET /api/v1/users/me
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	_, principal, ok := s.authorize(w, r)
	if !ok {
		return
	}

	user, err := s.deps.Store.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "user details", httputil.Envelope{
		"userData": user,
	})
}
