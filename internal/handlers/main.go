package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mindfulbot "github.com/mindfulbot/mindfulbot-web"
	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/mindfulbot/mindfulbot-web/internal/models"
	"github.com/mindfulbot/mindfulbot-web/internal/router"
	"github.com/tmaxmax/go-sse"
)

// Conversation is the streaming conversation the chat screen shows. Submit starts a reply in the background,
// every change of a message is reported to the functions registered with Subscribe.
type Conversation interface {
	Submit(ctx context.Context, text string) (conversation.Turn, error)
	Messages() []models.Message
	Subscribe(fn func(models.Message)) (unsubscribe func())
}

// Navigator holds the active screen and switches it on user actions.
type Navigator interface {
	Current() router.Screen
	StartChat() bool
	Back() bool
}

// Main handles the HTTP surface of the application: it renders the landing and chat screens, accepts
// messages and pushes every message update to the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	conversation Conversation
	navigator    Navigator

	unsubscribe func()

	logger *slog.Logger
}

const (
	chatSSETopic = "chat"
	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
	closeChatSSEType    = sse.Type("closeChat")
)

// NewMain creates a new Main instance. It parses the templates from the embedded filesystem, sets up the SSE
// server and starts forwarding the updates of conv to it.
func NewMain(conv Conversation, nav Navigator, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"clock": func(t time.Time) string { return t.Format("15:04") },
	}).ParseFS(
		mindfulbot.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, chatSSETopic},
				}, true
			},
		},
		templates:    tmpl,
		conversation: conv,
		navigator:    nav,
		logger:       logger.With(slog.String("module", "handlers")),
	}
	m.unsubscribe = conv.Subscribe(m.publishMessage)

	return m, nil
}

type messageEvent struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	StreamingState string `json:"streamingState"`
	HTML           string `json:"html"`
}

// publishMessage renders msg and publishes it to every connected browser. Publishing without any browser
// connected is not an error.
func (m Main) publishMessage(msg models.Message) {
	view, err := newMessageView(msg)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", view); err != nil {
		m.logger.Error("Failed to execute message template",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	data, err := json.Marshal(messageEvent{
		ID:             msg.ID,
		Role:           string(msg.Role),
		StreamingState: view.StreamingState,
		HTML:           sb.String(),
	})
	if err != nil {
		m.logger.Error("Failed to marshal message event", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := &sse.Message{Type: messagesSSEType}
	e.AppendData(string(data))
	if err := m.sseSrv.Publish(e, chatSSETopic); err != nil {
		m.logger.Debug("Failed to publish message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if msg.Role == models.RoleAssistant && !msg.Streaming {
		e := &sse.Message{Type: closeMessageSSEType}
		e.AppendData(msg.ID)
		_ = m.sseSrv.Publish(e, chatSSETopic)
	}
}

// HandleSSE subscribes the browser to message updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown stops forwarding conversation updates and gracefully terminates the SSE server. It broadcasts a
// close message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	e := &sse.Message{Type: closeChatSSEType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	if err := m.sseSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown sse server: %w", err)
	}
	return nil
}
