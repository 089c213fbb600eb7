package a2a

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"genesis-ngx/internal/domain"
)

// parseSSEStream reads SSE-formatted lines from body and forwards each data
// payload as a raw text chunk. Comment lines (keep-alives) are skipped. The
// channel is closed when the stream ends, the body closes, or ctx is
// cancelled; the final delta has Done set only when the terminal marker
// arrived, so consumers can tell completion from a broken stream.
func parseSSEStream(ctx context.Context, body io.ReadCloser) <-chan domain.StreamDelta {
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

			// Skip blank lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(data, []byte("[DONE]")) {
				select {
				case ch <- domain.StreamDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case ch <- domain.StreamDelta{Text: string(data)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
