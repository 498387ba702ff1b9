package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/gamemaster/internal/auth"
	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/pkg/ident"
	"github.com/MrWong99/gamemaster/pkg/memory/postgres"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type profileRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleRegister creates an account and logs it in directly.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		respondError(w, r, http.StatusBadRequest, "password must not be empty")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	user := postgres.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(r.Context(), user); err != nil {
		respondDomainError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	respondJSON(w, r, http.StatusCreated, map[string]string{"user_id": user.ID})
}

// handleLogin verifies credentials and issues a session token. All failure
// modes share one message so the endpoint does not leak which IDs exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ident.IsValid(req.UserID) {
		respondError(w, r, http.StatusUnauthorized, "login failed")
		return
	}

	user, err := s.users.UserByID(r.Context(), req.UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if user == nil {
		respondError(w, r, http.StatusUnauthorized, "login failed")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		observe.Logger(r.Context()).Warn("stored password hash is unreadable", "user_id", user.ID, "err", err)
		respondError(w, r, http.StatusUnauthorized, "login failed")
		return
	}
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "login failed")
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "ok"})
}

// handleWhoami returns the account plus its conversations.
func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := s.users.UserByID(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if user == nil {
		respondError(w, r, http.StatusUnauthorized, "login required")
		return
	}

	chats, err := s.users.ChatsByUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	type chatEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	entries := make([]chatEntry, 0, len(chats))
	for _, c := range chats {
		entries = append(entries, chatEntry{ID: c.ID, Name: c.Name})
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"id":    user.ID,
		"name":  user.Username,
		"chats": entries,
	})
}

// handleProfileUpdate changes username, password, or both. Empty fields are
// left untouched.
func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" && req.Password == "" {
		respondError(w, r, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.Username != "" {
		if err := s.users.UpdateUsername(r.Context(), userID, req.Username); err != nil {
			respondDomainError(w, r, err)
			return
		}
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if err := s.users.UpdatePassword(r.Context(), userID, hash); err != nil {
			respondDomainError(w, r, err)
			return
		}
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "ok"})
}
