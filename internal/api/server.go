// Package api exposes the Gamemaster HTTP surface: account registration and
// login, conversation lifecycle, character sheets, lore documents, world
// keywords, and the turn endpoint itself. The HTTP layer is a thin
// collaborator; all domain behavior lives in internal/chat.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/gamemaster/internal/auth"
	"github.com/MrWong99/gamemaster/internal/chat"
	"github.com/MrWong99/gamemaster/internal/health"
	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/memory/postgres"
)

// TurnRunner processes one player action and returns the gamemaster's reply.
// Implemented by [chat.Orchestrator].
type TurnRunner interface {
	Act(ctx context.Context, userID, conversationID, action string) (string, error)
}

// ConversationManager is the lifecycle surface the handlers call into.
// Implemented by [chat.Manager].
type ConversationManager interface {
	Create(ctx context.Context, userID, name string) (*postgres.Chat, error)
	Rename(ctx context.Context, userID, conversationID, name string) error
	Delete(ctx context.Context, userID, conversationID string) error
	History(ctx context.Context, userID, conversationID string) ([]memory.Turn, error)
	ActiveState(ctx context.Context, userID, conversationID string) (bool, error)
	World(ctx context.Context, userID, conversationID string) ([]string, error)
	UpdateWorld(ctx context.Context, userID, conversationID string, keywords []string) error
	Sheets(ctx context.Context, userID, conversationID string) ([][]byte, error)
	UpsertSheet(ctx context.Context, userID, conversationID, id string, doc []byte) (string, error)
	RemoveSheet(ctx context.Context, userID, conversationID, id string) error
	AddLore(ctx context.Context, userID, conversationID, title, content string) (string, error)
	Lore(ctx context.Context, userID, conversationID string) ([]postgres.Document, error)
	RemoveLore(ctx context.Context, userID, conversationID, id string) error
	ProposeStartingPoint(ctx context.Context, userID, conversationID string, sp chat.StartingPoint) (string, error)
}

// UserRegistry is the account surface the handlers call into. Implemented by
// [postgres.Registry].
type UserRegistry interface {
	CreateUser(ctx context.Context, u postgres.User) error
	UserByID(ctx context.Context, id string) (*postgres.User, error)
	UpdateUsername(ctx context.Context, id, username string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ChatsByUser(ctx context.Context, userID string) ([]postgres.Chat, error)
}

// Config carries the server's listen address and optional TLS files.
type Config struct {
	ListenAddr string
	TLSCert    string
	TLSKey     string
}

// Server wires handlers, middleware, and the underlying [http.Server].
type Server struct {
	cfg    Config
	http   *http.Server
	tokens *auth.TokenService
	users  UserRegistry
	turns  TurnRunner
	chats  ConversationManager
	health *health.Handler
}

// New builds the server and registers all routes.
func New(cfg Config, tokens *auth.TokenService, users UserRegistry, turns TurnRunner, chats ConversationManager, checks ...health.Checker) *Server {
	s := &Server{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		turns:  turns,
		chats:  chats,
		health: health.New(checks...),
	}

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /whoami", s.authed(s.handleWhoami))
	mux.HandleFunc("POST /me", s.authed(s.handleProfileUpdate))

	mux.HandleFunc("GET /new", s.authed(s.handleChatCreate))
	mux.HandleFunc("GET /chat/{chat_id}", s.authed(s.handleChatHistory))
	mux.HandleFunc("POST /chat/{chat_id}", s.authed(s.handleTurn))
	mux.HandleFunc("DELETE /chat/{chat_id}", s.authed(s.handleChatDelete))
	mux.HandleFunc("POST /chat/{chat_id}/name", s.authed(s.handleChatRename))
	mux.HandleFunc("GET /chat/{chat_id}/active", s.authed(s.handleChatActive))

	mux.HandleFunc("GET /chat/{chat_id}/world", s.authed(s.handleWorldGet))
	mux.HandleFunc("PUT /chat/{chat_id}/world", s.authed(s.handleWorldPut))

	mux.HandleFunc("GET /chat/{chat_id}/characters", s.authed(s.handleSheetList))
	mux.HandleFunc("POST /chat/{chat_id}/characters", s.authed(s.handleSheetCreate))
	mux.HandleFunc("POST /chat/{chat_id}/characters/{character_id}", s.authed(s.handleSheetUpdate))
	mux.HandleFunc("DELETE /chat/{chat_id}/characters/{character_id}", s.authed(s.handleSheetDelete))

	mux.HandleFunc("GET /chat/{chat_id}/documents", s.authed(s.handleLoreList))
	mux.HandleFunc("POST /chat/{chat_id}/documents", s.authed(s.handleLoreAdd))
	mux.HandleFunc("DELETE /chat/{chat_id}/documents/{document_id}", s.authed(s.handleLoreRemove))

	mux.HandleFunc("POST /chat/{chat_id}/starting-point-proposal", s.authed(s.handleStartingPoint))

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wired handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	var err error
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		err = s.http.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
