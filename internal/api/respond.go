package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/gamemaster/internal/chat"
	"github.com/MrWong99/gamemaster/internal/observe"
)

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error string `json:"error"`
}

// respondJSON writes v with the given status. Encoding failures are logged
// and degrade to a bare 500.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(r.Context()).Error("response encoding failed", "err", err)
	}
}

// respondError writes a JSON error body with the given status.
func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, errorBody{Error: msg})
}

// respondDomainError maps chat-layer sentinels onto HTTP statuses. The
// single-flight rejection gets its own status so clients can retry instead of
// treating it as a hard failure.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidUser),
		errors.Is(err, chat.ErrInvalidConversation),
		errors.Is(err, chat.ErrEmptyAction):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrConversationNotFound):
		respondError(w, r, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chat.ErrConversationActive):
		respondError(w, r, http.StatusConflict, "conversation is already processing a turn")
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes the request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
