package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/mindfulbot/mindfulbot-web/internal/router"
)

type submitResponse struct {
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
}

// HandleMessages accepts a message typed in the chat screen through the "message" form field and starts
// streaming the reply. The messages themselves reach the browser as server-sent events.
//
// Scripted clients asking for JSON get 202 with the IDs of the two new messages; plain form posts are
// redirected to the chat page. An empty message is answered with 400, a message sent while a reply is still
// streaming or outside the chat screen with 409.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if m.navigator.Current() != router.ScreenChat {
		m.logger.Warn("Message outside of chat screen")
		http.Error(w, "Chat is not open", http.StatusConflict)
		return
	}

	turn, err := m.conversation.Submit(r.Context(), r.FormValue("message"))
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, conversation.ErrBusy):
		m.logger.Warn("Message rejected while replying")
		http.Error(w, "A reply is still in progress", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.logger.Debug("Message accepted",
		slog.String("userMessageID", turn.UserMessageID),
		slog.String("assistantMessageID", turn.AssistantMessageID))

	if !strings.Contains(r.Header.Get("Accept"), "application/json") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(submitResponse{
		UserMessageID:      turn.UserMessageID,
		AssistantMessageID: turn.AssistantMessageID,
	}); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}
