package main

import (
	"fmt"
	"log/slog"

	"genesis-ngx/internal/adapter/llm"
	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
)

// buildGenerator selects the text-generation backend from config.
func buildGenerator(cfg *config.Config, log *slog.Logger) (domain.TextGenerator, error) {
	switch cfg.LLM.Backend {
	case "gemini":
		return llm.NewGeminiGenerator(cfg.LLM.Gemini, cfg.LLM.Models, log), nil
	case "bedrock":
		return createBedrockGenerator(cfg.LLM.Bedrock, cfg.LLM.Models, log)
	case "mock":
		return llm.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("llm backend %q not supported", cfg.LLM.Backend)
	}
}
