package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/kgfinance-web-ui/internal/chatview"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/handlers"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/models"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/services"
	"github.com/MegaGrindStone/kgfinance-web-ui/internal/telemetry"
	"gopkg.in/yaml.v3"
)

type answererConfig interface {
	answerer(logger *slog.Logger) (chatview.Answerer, error)
	provider() string
}

// BaseAnswererConfig contains the common fields for all answerer configurations.
type BaseAnswererConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
}

type config struct {
	Port                string                      `yaml:"port"`
	Title               string                      `yaml:"title"`
	Footer              string                      `yaml:"footer"`
	ViewIdleTimeout     time.Duration               `yaml:"viewIdleTimeout"`
	Answerer            answererConfig              `yaml:"answerer"`
	PredefinedQuestions []models.PredefinedQuestion `yaml:"predefinedQuestions"`
	Logging             telemetry.LogConfig         `yaml:"logging"`
	Telemetry           telemetry.Config            `yaml:"telemetry"`
}

type httpConfig struct {
	BaseAnswererConfig `yaml:",inline"`
	URL                string        `yaml:"url"`
	Timeout            time.Duration `yaml:"timeout"`
}

type ollamaConfig struct {
	BaseAnswererConfig `yaml:",inline"`
	Host               string `yaml:"host"`
}

type openAIConfig struct {
	BaseAnswererConfig `yaml:",inline"`
	APIKey             string                 `yaml:"apiKey"`
	BaseURL            string                 `yaml:"baseURL"`
	Parameters         services.LLMParameters `yaml:"parameters"`
}

type openRouterConfig struct {
	BaseAnswererConfig `yaml:",inline"`
	APIKey             string                 `yaml:"apiKey"`
	Parameters         services.LLMParameters `yaml:"parameters"`
}

type anthropicConfig struct {
	BaseAnswererConfig `yaml:",inline"`
	APIKey             string `yaml:"apiKey"`
	Endpoint           string `yaml:"endpoint"`
	MaxTokens          int    `yaml:"maxTokens"`
}

const (
	defaultPort       = "8080"
	defaultFooter     = "KGFinance is developed by Rafe Khan"
	defaultOllamaHost = "http://localhost:11434"
	defaultTelemetry  = "logs"
)

var errModelRequired = errors.New("model is required")

func defaultConfig() config {
	return config{
		Port:   defaultPort,
		Footer: defaultFooter,
		Answerer: &httpConfig{
			BaseAnswererConfig: BaseAnswererConfig{Provider: "http"},
			URL:                services.DefaultAnswerServiceURL,
		},
		PredefinedQuestions: models.DefaultQuestions(),
		Logging:             telemetry.LogConfig{Level: "info"},
		Telemetry:           telemetry.Config{Dir: defaultTelemetry},
	}
}

// loadConfig reads the config file at path. A missing file yields the default config.
func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML overrides the receiver with the fields present in value, so decoding into a default
// config keeps the defaults of the omitted fields.
func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                string                      `yaml:"port"`
		Title               string                      `yaml:"title"`
		Footer              *string                     `yaml:"footer"`
		ViewIdleTimeout     time.Duration               `yaml:"viewIdleTimeout"`
		Answerer            map[string]any              `yaml:"answerer"`
		PredefinedQuestions []models.PredefinedQuestion `yaml:"predefinedQuestions"`
		Logging             telemetry.LogConfig         `yaml:"logging"`
		Telemetry           telemetry.Config            `yaml:"telemetry"`
	}
	rawConfig.Logging = c.Logging
	rawConfig.Telemetry = c.Telemetry

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.Title != "" {
		c.Title = rawConfig.Title
	}
	if rawConfig.Footer != nil {
		c.Footer = *rawConfig.Footer
	}
	if rawConfig.ViewIdleTimeout != 0 {
		c.ViewIdleTimeout = rawConfig.ViewIdleTimeout
	}
	if len(rawConfig.PredefinedQuestions) > 0 {
		c.PredefinedQuestions = rawConfig.PredefinedQuestions
	}
	c.Logging = rawConfig.Logging
	c.Telemetry = rawConfig.Telemetry

	if rawConfig.Answerer == nil {
		return nil
	}

	provider, _ := rawConfig.Answerer["provider"].(string)
	if provider == "" {
		provider = "http"
		rawConfig.Answerer["provider"] = provider
	}

	answererRawYAML, err := yaml.Marshal(rawConfig.Answerer)
	if err != nil {
		return err
	}

	var answerer answererConfig
	switch provider {
	case "http":
		answerer = &httpConfig{}
	case "ollama":
		answerer = &ollamaConfig{}
	case "openai":
		answerer = &openAIConfig{}
	case "openrouter":
		answerer = &openRouterConfig{}
	case "anthropic":
		answerer = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown answerer provider: %s", provider)
	}

	if err := yaml.Unmarshal(answererRawYAML, answerer); err != nil {
		return err
	}

	c.Answerer = answerer

	return nil
}

func (c config) handlerOptions() handlers.Options {
	return handlers.Options{
		Title:           c.Title,
		Footer:          c.Footer,
		Questions:       c.PredefinedQuestions,
		ViewIdleTimeout: c.ViewIdleTimeout,
	}
}

func (b BaseAnswererConfig) provider() string {
	return b.Provider
}

func (h httpConfig) answerer(logger *slog.Logger) (chatview.Answerer, error) {
	return services.NewHTTPAnswerer(h.URL, h.Timeout, logger)
}

func (o ollamaConfig) answerer(logger *slog.Logger) (chatview.Answerer, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, o.SystemPrompt, logger)
}

func (o openAIConfig) answerer(logger *slog.Logger) (chatview.Answerer, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.SystemPrompt, o.Parameters, logger), nil
}

func (o openRouterConfig) answerer(logger *slog.Logger) (chatview.Answerer, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenAI(apiKey, services.OpenRouterBaseURL, o.Model, o.SystemPrompt, o.Parameters, logger), nil
}

func (a anthropicConfig) answerer(logger *slog.Logger) (chatview.Answerer, error) {
	if a.Model == "" {
		return nil, errModelRequired
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.SystemPrompt, a.MaxTokens, logger), nil
}
