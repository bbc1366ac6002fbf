package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"civic-reporting/pkg/models"
	"civic-reporting/pkg/response"
	"civic-reporting/pkg/session"
)

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	u, err := s.accounts.Register(r.Context(), in.Name, in.Email, in.Password)
	if errors.Is(err, session.ErrEmailExists) {
		response.Error(w, http.StatusConflict, "Email already registered", "")
		return
	}
	if err != nil {
		response.FromError(w, err, "Failed to register")
		return
	}
	s.log.InfoContext(r.Context(), "user registered", "user_id", u.ID)
	s.issue(w, http.StatusCreated, "Registration successful", u)
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	u, err := s.accounts.Login(r.Context(), in.Email, in.Password)
	if session.IsAuthError(err) {
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}
	if err != nil {
		response.FromError(w, err, "Failed to sign in")
		return
	}
	s.issue(w, http.StatusOK, "Login successful", u)
}

func (s *server) issue(w http.ResponseWriter, status int, message string, u models.User) {
	token, sess, err := s.tokens.Issue(u)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to create session", "")
		return
	}
	response.Success(w, status, message, sessionPayload{Token: token, User: sess.User, ExpiresAt: sess.ExpiresAt})
}

// logout acknowledges the sign-out; tokens are stateless and the client
// drops its copy.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	s.log.InfoContext(r.Context(), "user signed out", "user_id", sess.User.ID)
	response.Success(w, http.StatusOK, "Signed out", nil)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	u, err := s.accounts.Lookup(r.Context(), sess.User.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized, "Account no longer exists", "")
			return
		}
		response.FromError(w, err, "Failed to load account")
		return
	}
	response.Success(w, http.StatusOK, "", u)
}
