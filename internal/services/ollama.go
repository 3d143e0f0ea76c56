package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the chat capability for models served by an Ollama server. It needs
// no credential.
type Ollama struct {
	host  string
	model string

	logger *slog.Logger
}

type ollamaSession struct {
	model        string
	systemPrompt string
	temperature  float32

	client  *api.Client
	history history

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. An empty host uses
// OLLAMA_HOST or the local default.
func NewOllama(host, model string, logger *slog.Logger) Ollama {
	return Ollama{
		host:   host,
		model:  model,
		logger: logger.With(slog.String("module", "ollama")),
	}
}

// CreateSession creates an API client for the configured host.
func (o Ollama) CreateSession(_ context.Context, systemPrompt string, temperature float32) (conversation.Session, error) {
	var client *api.Client
	if o.host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(o.host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", o.host, err)
		}
		client = api.NewClient(u, &http.Client{})
	}

	return &ollamaSession{
		model:        o.model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		client:       client,
		logger:       o.logger,
	}, nil
}

// Stream streams the reply of the Ollama model for userText, following the previous turns of the session.
func (s *ollamaSession) Stream(ctx context.Context, userText string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries := s.history.snapshot()
		msgs := make([]api.Message, 0, len(entries)+2)
		msgs = append(msgs, api.Message{Role: "system", Content: s.systemPrompt})
		for _, e := range entries {
			msgs = append(msgs, api.Message{Role: string(e.role), Content: e.text})
		}
		msgs = append(msgs, api.Message{Role: "user", Content: userText})

		t := true
		req := api.ChatRequest{
			Model:    s.model,
			Messages: msgs,
			Stream:   &t,
			Options: map[string]any{
				"temperature": s.temperature,
			},
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var reply strings.Builder
		stopped := false
		if err := s.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			reply.WriteString(res.Message.Content)
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			// A stop by the consumer cancels the request itself.
			if stopped {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		if stopped {
			return
		}

		s.history.commit(userText, reply.String())
	}
}
