package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/mindfulbot/mindfulbot-web/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	capability(logger *slog.Logger) (conversation.Capability, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port          string
	LogLevel      string
	SystemPrompt  string
	Temperature   float32
	FailurePolicy string
	LLM           llmConfig
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKeyEnv     string `yaml:"apiKeyEnv"`
	BaseURL       string `yaml:"baseURL"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKeyEnv     string `yaml:"apiKeyEnv"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKeyEnv     string `yaml:"apiKeyEnv"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

const (
	defaultPort        = "8080"
	defaultGeminiModel = "gemini-2.5-flash"
)

func defaultConfig() config {
	return config{
		Port:          defaultPort,
		LogLevel:      "info",
		Temperature:   conversation.DefaultTemperature,
		FailurePolicy: "overwrite",
		LLM: &geminiConfig{
			BaseLLMConfig: BaseLLMConfig{Provider: "gemini", Model: defaultGeminiModel},
		},
	}
}

// configPath returns the config file location: MINDFULBOT_CONFIG if set, otherwise mindfulbot/config.yaml in
// the user config directory.
func configPath() (string, error) {
	if p := os.Getenv("MINDFULBOT_CONFIG"); p != "" {
		return p, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "mindfulbot", "config.yaml"), nil
}

// loadConfig reads the config file at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	return decodeConfig(cfgFile)
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port          string         `yaml:"port"`
		LogLevel      string         `yaml:"logLevel"`
		SystemPrompt  string         `yaml:"systemPrompt"`
		Temperature   *float32       `yaml:"temperature"`
		FailurePolicy string         `yaml:"failurePolicy"`
		LLM           map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.SystemPrompt != "" {
		c.SystemPrompt = rawConfig.SystemPrompt
	}
	if rawConfig.Temperature != nil {
		c.Temperature = *rawConfig.Temperature
	}
	if rawConfig.FailurePolicy != "" {
		c.FailurePolicy = rawConfig.FailurePolicy
	}

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c config) failurePolicy() (conversation.FailurePolicy, error) {
	switch strings.ToLower(c.FailurePolicy) {
	case "", "overwrite":
		return conversation.FailureOverwrite, nil
	case "preserve":
		return conversation.FailurePreservePartial, nil
	default:
		return 0, fmt.Errorf("unknown failure policy: %s", c.FailurePolicy)
	}
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (g geminiConfig) capability(logger *slog.Logger) (conversation.Capability, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}
	var envs []string
	if g.APIKeyEnv != "" {
		envs = []string{g.APIKeyEnv}
	}
	return services.NewGemini(model, envs, g.BaseURL, logger), nil
}

func (o openAIConfig) capability(logger *slog.Logger) (conversation.Capability, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewOpenAI(o.Model, o.APIKeyEnv, o.BaseURL, logger), nil
}

func (o ollamaConfig) capability(logger *slog.Logger) (conversation.Capability, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewOllama(o.Host, o.Model, logger), nil
}

func (a anthropicConfig) capability(logger *slog.Logger) (conversation.Capability, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}
	return services.NewAnthropic(a.Model, a.MaxTokens, a.APIKeyEnv, a.BaseURL, logger), nil
}
