package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"strings"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the chat capability for OpenAI's language models, or any server
// speaking the same chat completion protocol when a base URL is set.
type OpenAI struct {
	model     string
	apiKeyEnv string
	baseURL   string

	logger *slog.Logger
}

type openAISession struct {
	model        string
	systemPrompt string
	temperature  float32

	client  *goopenai.Client
	history history

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. The API key is read from the apiKeyEnv environment variable,
// OPENAI_API_KEY if empty, when a session is created.
func NewOpenAI(model, apiKeyEnv, baseURL string, logger *slog.Logger) OpenAI {
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	return OpenAI{
		model:     model,
		apiKeyEnv: apiKeyEnv,
		baseURL:   baseURL,
		logger:    logger.With(slog.String("module", "openai")),
	}
}

// CreateSession creates a client for the configured endpoint. The conversation is kept by the session and
// replayed on every request.
func (o OpenAI) CreateSession(_ context.Context, systemPrompt string, temperature float32) (conversation.Session, error) {
	apiKey, err := credential(o.apiKeyEnv)
	if err != nil {
		return nil, err
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}

	return &openAISession{
		model:        o.model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       o.logger,
	}, nil
}

func (s *openAISession) messages(userText string) []goopenai.ChatCompletionMessage {
	entries := s.history.snapshot()
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(entries)+2)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: s.systemPrompt,
	})
	for _, e := range entries {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(e.role),
			Content: e.text,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: userText,
	})
}

// Stream is a wrapper around the OpenAI streaming chat completion API.
func (s *openAISession) Stream(ctx context.Context, userText string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		// go-openai omits a zero temperature from the request.
		temperature := s.temperature
		if temperature == 0 {
			temperature = math.SmallestNonzeroFloat32
		}
		req := goopenai.ChatCompletionRequest{
			Model:       s.model,
			Messages:    s.messages(userText),
			Temperature: temperature,
			Stream:      true,
		}

		reqJSON, err := json.Marshal(req)
		if err == nil {
			s.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		var reply strings.Builder
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			reply.WriteString(content)
			if !yield(content, nil) {
				return
			}
		}

		s.history.commit(userText, reply.String())
	}
}
