package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"genesis-ngx/internal/domain"
)

// parseGeminiStream converts the Gemini SSE response body into StreamDeltas.
// The channel is closed when the stream ends, the body closes, or ctx is
// cancelled.
func parseGeminiStream(ctx context.Context, body io.ReadCloser) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(data, []byte("[DONE]")) {
				sendDelta(ctx, ch, domain.StreamDelta{Done: true})
				return
			}

			var chunk geminiResponse
			if err := json.Unmarshal(data, &chunk); err != nil {
				continue
			}

			delta := domain.StreamDelta{}
			if len(chunk.Candidates) > 0 {
				for _, part := range chunk.Candidates[0].Content.Parts {
					delta.Text += part.Text
				}
			}
			if chunk.UsageMetadata != nil {
				delta.Usage = &domain.Usage{
					PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
					CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
				}
			}
			if delta.Text == "" && delta.Usage == nil {
				continue
			}
			if !sendDelta(ctx, ch, delta) {
				return
			}
		}
		// Gemini's SSE dialect ends the stream by closing the body rather
		// than emitting a terminal marker; report completion either way.
		sendDelta(ctx, ch, domain.StreamDelta{Done: true})
	}()
	return ch
}

func sendDelta(ctx context.Context, ch chan<- domain.StreamDelta, delta domain.StreamDelta) bool {
	select {
	case ch <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

func readLimited(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}
