package a2a

import (
	"context"
	"io"
	"strings"
	"testing"

	"genesis-ngx/internal/domain"
)

func collect(t *testing.T, stream string) (chunks []string, sawDone bool) {
	t.Helper()
	body := io.NopCloser(strings.NewReader(stream))
	for delta := range parseSSEStream(context.Background(), body) {
		if delta.Done {
			sawDone = true
			continue
		}
		chunks = append(chunks, delta.Text)
	}
	return chunks, sawDone
}

func TestParseSSEStreamChunks(t *testing.T) {
	chunks, done := collect(t, "data: hola\n\ndata: mundo\n\ndata: [DONE]\n\n")

	if len(chunks) != 2 || chunks[0] != "hola" || chunks[1] != "mundo" {
		t.Errorf("chunks = %v", chunks)
	}
	if !done {
		t.Error("terminal marker not reported")
	}
}

func TestParseSSEStreamSkipsComments(t *testing.T) {
	chunks, done := collect(t, ":keep-alive\n\ndata: uno\n\n:keep-alive\n\ndata: [DONE]\n\n")

	if len(chunks) != 1 || chunks[0] != "uno" {
		t.Errorf("chunks = %v", chunks)
	}
	if !done {
		t.Error("terminal marker not reported")
	}
}

func TestParseSSEStreamBrokenStream(t *testing.T) {
	// No terminal marker: the channel closes without a Done delta so the
	// consumer can tell a broken stream from a completed one.
	chunks, done := collect(t, "data: uno\n\ndata: dos\n\n")

	if len(chunks) != 2 {
		t.Errorf("chunks = %v", chunks)
	}
	if done {
		t.Error("broken stream must not report completion")
	}
}

func TestParseSSEStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := io.NopCloser(strings.NewReader("data: uno\n\ndata: dos\n\n"))
	ch := parseSSEStream(ctx, body)

	var got []domain.StreamDelta
	for delta := range ch {
		got = append(got, delta)
	}
	if len(got) > 1 {
		t.Errorf("cancelled stream delivered %d deltas", len(got))
	}
}
