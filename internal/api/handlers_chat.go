package api

import (
	"io"
	"net/http"

	"github.com/MrWong99/gamemaster/internal/chat"
	"github.com/MrWong99/gamemaster/pkg/memory"
)

type actionRequest struct {
	Description string `json:"description"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type worldRequest struct {
	Keywords []string `json:"keywords"`
}

type loreRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type startingPointRequest struct {
	Character string `json:"character"`
	Location  string `json:"location"`
	Purpose   string `json:"purpose"`
	Weather   string `json:"weather"`
	Mood      string `json:"mood"`
}

// handleChatCreate registers a new conversation. The optional name query
// parameter defaults to an empty display name.
func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request, userID string) {
	c, err := s.chats.Create(r.Context(), userID, r.URL.Query().Get("name"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]string{"chat": c.ID})
}

// handleTurn runs one player action through the orchestrator.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, userID string) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.turns.Act(r.Context(), userID, r.PathValue("chat_id"), req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": reply})
}

// handleChatHistory returns the full turn log.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, userID string) {
	turns, err := s.chats.History(r.Context(), userID, r.PathValue("chat_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := make([]message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == memory.RoleAgent {
			role = "agent"
		}
		messages = append(messages, message{Role: role, Content: t.Content})
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.chats.Delete(r.Context(), userID, r.PathValue("chat_id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleChatRename(w http.ResponseWriter, r *http.Request, userID string) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, r, http.StatusBadRequest, "chat name must be filled")
		return
	}
	if err := s.chats.Rename(r.Context(), userID, r.PathValue("chat_id"), req.Name); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) handleChatActive(w http.ResponseWriter, r *http.Request, userID string) {
	active, err := s.chats.ActiveState(r.Context(), userID, r.PathValue("chat_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"active": active})
}

func (s *Server) handleWorldGet(w http.ResponseWriter, r *http.Request, userID string) {
	world, err := s.chats.World(r.Context(), userID, r.PathValue("chat_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string][]string{"keywords": world})
}

func (s *Server) handleWorldPut(w http.ResponseWriter, r *http.Request, userID string) {
	var req worldRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.chats.UpdateWorld(r.Context(), userID, r.PathValue("chat_id"), req.Keywords); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "ok"})
}

// handleSheetList returns the raw sheet documents as a JSON array.
func (s *Server) handleSheetList(w http.ResponseWriter, r *http.Request, userID string) {
	sheets, err := s.chats.Sheets(r.Context(), userID, r.PathValue("chat_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	// Sheets are stored as raw JSON; splice them into the response unparsed.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"characters":[`))
	for i, sheet := range sheets {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write(sheet)
	}
	w.Write([]byte("]}\n"))
}

func (s *Server) handleSheetCreate(w http.ResponseWriter, r *http.Request, userID string) {
	s.upsertSheet(w, r, userID, "")
}

func (s *Server) handleSheetUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	s.upsertSheet(w, r, userID, r.PathValue("character_id"))
}

func (s *Server) upsertSheet(w http.ResponseWriter, r *http.Request, userID, sheetID string) {
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(doc) == 0 {
		respondError(w, r, http.StatusBadRequest, "sheet must not be empty")
		return
	}

	id, err := s.chats.UpsertSheet(r.Context(), userID, r.PathValue("chat_id"), sheetID, doc)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"character": id})
}

func (s *Server) handleSheetDelete(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.chats.RemoveSheet(r.Context(), userID, r.PathValue("chat_id"), r.PathValue("character_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleLoreList(w http.ResponseWriter, r *http.Request, userID string) {
	docs, err := s.chats.Lore(r.Context(), userID, r.PathValue("chat_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	type document struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	entries := make([]document, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, document{ID: d.ID, Title: d.Title})
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"documents": entries})
}

func (s *Server) handleLoreAdd(w http.ResponseWriter, r *http.Request, userID string) {
	var req loreRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		respondError(w, r, http.StatusBadRequest, "document content must not be empty")
		return
	}

	id, err := s.chats.AddLore(r.Context(), userID, r.PathValue("chat_id"), req.Title, req.Content)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]string{"document": id})
}

func (s *Server) handleLoreRemove(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.chats.RemoveLore(r.Context(), userID, r.PathValue("chat_id"), r.PathValue("document_id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleStartingPoint(w http.ResponseWriter, r *http.Request, userID string) {
	var req startingPointRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	proposal, err := s.chats.ProposeStartingPoint(r.Context(), userID, r.PathValue("chat_id"), chat.StartingPoint{
		Character: req.Character,
		Location:  req.Location,
		Purpose:   req.Purpose,
		Weather:   req.Weather,
		Mood:      req.Mood,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"proposal": proposal})
}
