package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"genesis-ngx/internal/domain"
)

// MockGenerator is a deterministic offline backend: no network, zero cost.
// Its output follows the two-section synthesis format so full-mock
// deployments exercise the same parsing paths as real ones.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

// Generate implements domain.TextGenerator.
func (m *MockGenerator) Generate(_ context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	text := fmt.Sprintf("RESPUESTA: [mock] %s\nSEGUIMIENTO: NONE", summarize(req.Prompt))

	promptTokens := estimateTokens(req.System) + estimateTokens(req.Prompt)
	completionTokens := estimateTokens(text)
	return &domain.GenerateResult{
		Text:  text,
		Model: "mock-" + string(req.Tier),
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		CostUSD: 0,
	}, nil
}

// GenerateStream implements domain.StreamingTextGenerator by word-splitting
// the deterministic response.
func (m *MockGenerator) GenerateStream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	result, _ := m.Generate(ctx, req)

	ch := make(chan domain.StreamDelta, 8)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(result.Text, " ") {
			select {
			case ch <- domain.StreamDelta{Text: word}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- domain.StreamDelta{Done: true, Usage: &result.Usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Name implements domain.TextGenerator.
func (m *MockGenerator) Name() string { return "mock" }

// summarize returns the first line of prompt, bounded.
func summarize(prompt string) string {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const max = 120
	if utf8.RuneCountInString(line) > max {
		runes := []rune(line)
		line = string(runes[:max]) + "..."
	}
	return line
}

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

var (
	_ domain.TextGenerator          = (*MockGenerator)(nil)
	_ domain.StreamingTextGenerator = (*MockGenerator)(nil)
)
