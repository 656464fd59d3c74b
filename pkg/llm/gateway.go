package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse is the cause of a GenerationError when the model returns
// only whitespace.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ConfigurationError is returned by constructors when a required setting
// (model name, server URL, credentials) is missing or invalid.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// GenerationError wraps any failure of the upstream model call:
// transport, quota, rate limiting or timeout.
type GenerationError struct {
	Model   string
	Timeout bool
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("generation with %s timed out: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// GatewayConfig represents the configuration for the model gateway.
type GatewayConfig struct {
	Provider    string // "ollama" or "googleai"
	Model       string
	BaseURL     string // Ollama server URL
	APIKey      string // Google AI key
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
}

// Gateway is the single entry point for generative text calls.
type Gateway struct {
	config  GatewayConfig
	llm     llms.Model
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewWithConfig creates a Gateway backed by the configured provider.
func NewWithConfig(ctx context.Context, config GatewayConfig, logger *zap.Logger) (*Gateway, error) {
	if config.Model == "" {
		return nil, &ConfigurationError{Field: "llm.model", Message: "model is required"}
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case "ollama", "":
		if config.BaseURL == "" {
			return nil, &ConfigurationError{Field: "llm.base_url", Message: "Ollama server URL is required"}
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "googleai":
		if config.APIKey == "" {
			return nil, &ConfigurationError{Field: "llm.api_key", Message: "Google AI API key is required"}
		}
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(config.Model),
		)
	default:
		return nil, &ConfigurationError{Field: "llm.provider", Message: fmt.Sprintf("unknown provider %q", config.Provider)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(model, config, logger), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, config GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}

	g := &Gateway{
		config: config,
		llm:    model,
		logger: logger.Named("gateway"),
	}
	if config.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return g
}

// Generate sends a single prompt and returns the raw model text. It never
// retries and never inspects the returned text.
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", g.generationError(ctx, err)
		}
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil {
		gerr := g.generationError(ctx, err)
		g.logger.Warn("generation failed",
			zap.String("model", g.config.Model),
			zap.Bool("timeout", gerr.Timeout),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", gerr
	}
	if strings.TrimSpace(text) == "" {
		g.logger.Warn("empty generation", zap.String("model", g.config.Model))
		return "", g.generationError(ctx, ErrEmptyResponse)
	}

	g.logger.Debug("generation complete",
		zap.String("model", g.config.Model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

func (g *Gateway) generationError(ctx context.Context, err error) *GenerationError {
	return &GenerationError{
		Model:   g.config.Model,
		Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}
