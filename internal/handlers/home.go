package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/mindfulbot/mindfulbot-web/internal/models"
	"github.com/mindfulbot/mindfulbot-web/internal/router"
)

type homePageData struct {
	Year int
}

type chatPageData struct {
	Messages []message
	Busy     bool
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
	Failed         bool
}

func newMessageView(msg models.Message) (message, error) {
	content, err := models.RenderText(msg)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:   msg.ID,
		Role: string(msg.Role),
		// RenderText escapes user text and drops raw HTML from replies.
		Content:        template.HTML(content),
		Timestamp:      msg.Timestamp,
		StreamingState: msg.StreamingState(),
		Failed:         msg.Failed,
	}, nil
}

// HandleHome renders the active screen: the landing page, or the chat with the conversation so far.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if m.navigator.Current() == router.ScreenLanding {
		if err := m.templates.ExecuteTemplate(w, "landing.html", homePageData{Year: time.Now().Year()}); err != nil {
			m.logger.Error("Failed to execute landing template", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	msgs := m.conversation.Messages()
	views := make([]message, len(msgs))
	for i, msg := range msgs {
		v, err := newMessageView(msg)
		if err != nil {
			m.logger.Error("Failed to render contents",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views[i] = v
	}

	// A reply cut off by Back still holds the controller busy but is no longer shown, so the input only waits
	// for a reply the page can see end.
	data := chatPageData{
		Messages: views,
		Busy:     slices.ContainsFunc(msgs, func(msg models.Message) bool { return msg.Streaming }),
	}
	if err := m.templates.ExecuteTemplate(w, "chat.html", data); err != nil {
		m.logger.Error("Failed to execute chat template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleStartChat switches to the chat screen.
func (m Main) HandleStartChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.navigator.StartChat()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleBack switches back to the landing screen.
func (m Main) HandleBack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.navigator.Back()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
