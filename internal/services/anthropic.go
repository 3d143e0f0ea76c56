package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the chat capability and handles streaming completions using Claude models.
type Anthropic struct {
	model     string
	maxTokens int
	apiKeyEnv string
	endpoint  string

	client *http.Client
	logger *slog.Logger
}

type anthropicSession struct {
	Anthropic

	apiKey       string
	systemPrompt string
	temperature  float32

	history history
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float32            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified model name and maximum token limit. The
// API key is read from apiKeyEnv, ANTHROPIC_API_KEY if empty, when a session is created. An empty endpoint
// uses the public API.
func NewAnthropic(model string, maxTokens int, apiKeyEnv, endpoint string, logger *slog.Logger) Anthropic {
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		model:     model,
		maxTokens: maxTokens,
		apiKeyEnv: apiKeyEnv,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// CreateSession checks the API key and returns a session replaying the conversation on every request.
func (a Anthropic) CreateSession(_ context.Context, systemPrompt string, temperature float32) (conversation.Session, error) {
	apiKey, err := credential(a.apiKeyEnv)
	if err != nil {
		return nil, err
	}
	return &anthropicSession{
		Anthropic:    a,
		apiKey:       apiKey,
		systemPrompt: systemPrompt,
		temperature:  temperature,
	}, nil
}

// Stream streams the reply from the Anthropic API for userText. The context can be used to cancel ongoing
// requests.
func (s *anthropicSession) Stream(ctx context.Context, userText string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries := s.history.snapshot()
		msgs := make([]anthropicMessage, 0, len(entries)+1)
		for _, e := range entries {
			msgs = append(msgs, anthropicMessage{Role: string(e.role), Content: e.text})
		}
		msgs = append(msgs, anthropicMessage{Role: "user", Content: userText})

		reqBody := anthropicChatRequest{
			Model:       s.model,
			Messages:    msgs,
			System:      s.systemPrompt,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Stream:      true,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", s.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := s.client.Do(req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body)))
			return
		}

		var reply strings.Builder
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				s.history.commit(userText, reply.String())
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if res.Delta.Text == "" {
					continue
				}
				reply.WriteString(res.Delta.Text)
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				s.logger.Debug("Skipped event", slog.String("type", ev.Type))
			}
		}

		yield("", errors.New("stream ended before message_stop"))
	}
}
