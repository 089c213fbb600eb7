//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
)

func createBedrockGenerator(_ config.ProviderConfig, _ config.ModelTierConfig, _ *slog.Logger) (domain.TextGenerator, error) {
	return nil, fmt.Errorf("bedrock backend requires build with -tags bedrock")
}
