// Package llm wraps the model vendor behind the one call the orchestrator
// needs: send a system+user prompt pair with explicit decoding parameters,
// get raw text back. Parsing, validation and retries live with the caller.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/moonhollow/werewolf-arena/internal/config"
	"github.com/moonhollow/werewolf-arena/internal/models"
)

// Client is the narrow surface the turn adapter depends on. Tests substitute
// a scripted responder.
type Client interface {
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string, decode models.DecodeConfig) (string, error)
}

// LangchainClient drives a langchaingo model.
type LangchainClient struct {
	model llms.Model
	cfg   config.LLMConfig
}

// New builds the vendor client for the configured provider.
func New(cfg config.LLMConfig) (*LangchainClient, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible provider requires LLM_BASE_URL")
		}
		model, err = openai.New(
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
		)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider %q: %w", cfg.Provider, err)
	}

	return &LangchainClient{model: model, cfg: cfg}, nil
}

// ChatJSON sends one system+user exchange and returns the raw completion
// text. The per-call timeout comes from LLM_TIMEOUT_SEC.
func (c *LangchainClient) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, decode models.DecodeConfig) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	opts := []llms.CallOption{
		llms.WithTemperature(decode.Temperature),
		llms.WithTopP(decode.TopP),
	}
	if decode.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(decode.MaxTokens))
	}
	if decode.PresencePenalty != 0 {
		opts = append(opts, llms.WithPresencePenalty(decode.PresencePenalty))
	}
	if decode.FrequencyPenalty != 0 {
		opts = append(opts, llms.WithFrequencyPenalty(decode.FrequencyPenalty))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}
