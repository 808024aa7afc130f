package server

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/models"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresIn int64     `json:"expires_in"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "AUTH_400", "malformed request body"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "AUTH_400", "invalid email address"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Users.Create(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresIn: int64(s.cfg.JWTExpiry.Seconds()),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "AUTH_400", "malformed request body"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.store.Users.GetByEmail(r.Context(), email)
	if err != nil || !user.Active || !auth.CheckPassword(user.PasswordHash, req.Password) {
		// A single response for unknown user and wrong password.
		writeError(w, models.E(models.KindAuthentication, "AUTH_001", "invalid credentials"))
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresIn: int64(s.cfg.JWTExpiry.Seconds()),
	})
}
