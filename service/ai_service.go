package service

import (
	"context"
	"fmt"

	"github.com/tieubaoca/paperflow/config"
)

// AIService completes a single system + user prompt exchange.
type AIService interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (string, error)
}

// NewAIService builds the provider selected in cfg.
func NewAIService(ctx context.Context, cfg config.LLMConfig) (AIService, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
		return NewOpenAIService(cfg.BaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	case "gemini":
		keys := cfg.GeminiKeys()
		if len(keys) == 0 {
			return nil, fmt.Errorf("gemini provider needs GEMINI_API_KEY or GEMINI_API_KEYS")
		}
		return NewGeminiService(ctx, keys, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
