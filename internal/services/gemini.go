package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"google.golang.org/genai"
)

// Gemini provides an implementation of the chat capability on top of Google's Gemini API. The session keeps
// the conversation history on the genai chat handle.
type Gemini struct {
	model      string
	apiKeyEnvs []string
	baseURL    string

	logger *slog.Logger
}

type geminiSession struct {
	chat *genai.Chat

	logger *slog.Logger
}

// DefaultGeminiKeyEnvs lists the environment variables the Gemini API key is read from, in order.
var DefaultGeminiKeyEnvs = []string{"API_KEY", "GEMINI_API_KEY"}

// NewGemini creates a new Gemini instance. The API key is looked up in apiKeyEnvs when a session is created;
// an empty list uses DefaultGeminiKeyEnvs. An empty baseURL uses the public endpoint.
func NewGemini(model string, apiKeyEnvs []string, baseURL string, logger *slog.Logger) Gemini {
	if len(apiKeyEnvs) == 0 {
		apiKeyEnvs = DefaultGeminiKeyEnvs
	}
	return Gemini{
		model:      model,
		apiKeyEnvs: apiKeyEnvs,
		baseURL:    baseURL,
		logger:     logger.With(slog.String("module", "gemini")),
	}
}

// CreateSession creates a genai chat configured with the system instruction and temperature.
func (g Gemini) CreateSession(ctx context.Context, systemPrompt string, temperature float32) (conversation.Session, error) {
	apiKey, err := credential(g.apiKeyEnvs...)
	if err != nil {
		return nil, err
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	chat, err := client.Chats.Create(ctx, g.model, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(temperature),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	g.logger.Info("Chat session created", slog.String("model", g.model))

	return &geminiSession{chat: chat, logger: g.logger}, nil
}

// Stream sends userText on the chat and yields the text of every streamed response chunk.
func (s *geminiSession) Stream(ctx context.Context, userText string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for res, err := range s.chat.SendMessageStream(ctx, genai.Part{Text: userText}) {
			if err != nil {
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			text := res.Text()
			if text == "" {
				continue
			}
			s.logger.Debug("Chunk", slog.String("text", text))
			if !yield(text, nil) {
				return
			}
		}
	}
}
