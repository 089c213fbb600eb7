//go:build bedrock

package main

import (
	"log/slog"

	"genesis-ngx/internal/adapter/llm"
	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
)

func createBedrockGenerator(pc config.ProviderConfig, models config.ModelTierConfig, log *slog.Logger) (domain.TextGenerator, error) {
	return llm.NewBedrockGenerator(pc, models, log)
}
