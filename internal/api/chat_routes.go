package api

import (
	"net/http"

	"github.com/kjannette/marketdash-backend/internal/chat"
)

type chatResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: chat.FallbackMessage, Error: "invalid JSON body"})
		return
	}
	if s.deps.Chat == nil {
		writeJSON(w, http.StatusInternalServerError, chatResponse{Response: chat.FallbackMessage, Error: "chat is not available"})
		return
	}

	reply, err := s.deps.Chat.Ask(r.Context(), req)
	if err != nil {
		status, msg := statusFor(err, "chat assistant unavailable")
		writeJSON(w, status, chatResponse{Response: reply, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}
