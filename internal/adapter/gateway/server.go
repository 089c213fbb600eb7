// Package gateway exposes the public chat API in front of the orchestrator.
// External clients speak plain JSON here; the A2A wire protocol stays
// internal between the orchestrator and its specialists.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/config"
	"genesis-ngx/internal/infra/middleware"
)

const (
	maxChatBody     = 64 << 10
	shutdownTimeout = 10 * time.Second

	// streamChunkWords controls how many words each SSE chunk carries.
	streamChunkWords = 8
)

// TurnRunner processes one conversational turn. Implemented by
// usecase.Orchestrator.
type TurnRunner interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
}

// Server is the public HTTP chat gateway.
type Server struct {
	runner    TurnRunner
	auth      Authenticator
	cfg       config.GatewayConfig
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer builds a gateway in front of runner. Auth type "static"
// requires at least one configured token.
func NewServer(runner TurnRunner, cfg config.GatewayConfig, logger *slog.Logger) (*Server, error) {
	var auth Authenticator
	switch cfg.Auth.Type {
	case "static":
		sta := NewStaticTokenAuth(cfg.Auth.Tokens)
		if len(sta.tokens) == 0 {
			return nil, fmt.Errorf("gateway auth type %q requires at least one token", cfg.Auth.Type)
		}
		auth = sta
	case "", "none":
		auth = NoAuth{}
	default:
		return nil, fmt.Errorf("unknown gateway auth type %q", cfg.Auth.Type)
	}

	return &Server{
		runner: runner,
		auth:   auth,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler returns the full middleware chain. ctx bounds the rate limiter's
// cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /v1/chat/stream", s.requireAuth(s.handleChatStream))

	var h http.Handler = mux
	if s.cfg.RateLimit.Enabled {
		h = middleware.RateLimit(ctx, s.cfg.RateLimit.RequestsPerMin, s.cfg.RateLimit.BurstSize)(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.Recover(s.logger)(h)
	h = middleware.RequestID(h)
	return h
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("gateway listening", "addr", s.boundAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// BoundAddr returns the listener address after Start, useful when the
// configured addr uses port 0.
func (s *Server) BoundAddr() string { return s.boundAddr }

type chatRequest struct {
	UserID         string  `json:"user_id"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Message        string  `json:"message"`
	BudgetUSD      float64 `json:"budget_usd,omitempty"`
}

type chatResponse struct {
	RequestID string             `json:"request_id"`
	Result    *domain.TurnResult `json:"result"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	RequestID string           `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, ok := s.auth.Authenticate(r)
		if !ok {
			s.writeError(w, r, http.StatusUnauthorized, domain.CodeAuthInvalid, "invalid or missing bearer token")
			return
		}
		s.logger.Debug("gateway request authenticated",
			"client", client.Name,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFrom(r.Context()),
		)
		next(w, r)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	result, err := s.runner.ProcessTurn(r.Context(), req)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{
		RequestID: middleware.RequestIDFrom(r.Context()),
		Result:    result,
	}); err != nil {
		s.logger.Warn("write chat response", "error", err)
	}
}

// handleChatStream replays the finished turn as named SSE events. Turns are
// synthesized from multiple agents, so the unified answer only exists once
// consensus is done; streaming here smooths delivery, it does not shorten
// time to first token.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, domain.CodeUnknown, "streaming unsupported")
		return
	}

	result, err := s.runner.ProcessTurn(r.Context(), req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	requestID := middleware.RequestIDFrom(r.Context())
	if err != nil {
		s.logger.Error("turn failed", "error", err, "request_id", requestID)
		emitEvent(w, flusher, "error", errorBody{
			Code:      domain.ErrorCodeOf(err),
			Message:   err.Error(),
			RequestID: requestID,
		})
		return
	}

	emitEvent(w, flusher, "start", map[string]any{
		"request_id": requestID,
		"intent":     result.Classification.Primary,
		"agents":     result.AgentsConsulted,
	})
	for _, chunk := range chunkWords(result.Response.UnifiedResponse, streamChunkWords) {
		emitEvent(w, flusher, "chunk", map[string]any{"text": chunk})
	}
	emitEvent(w, flusher, "done", map[string]any{
		"confidence":          result.Response.Confidence,
		"sources":             result.Response.Sources,
		"follow_up_suggested": result.Response.FollowUpSuggested,
		"tokens_used":         result.Response.TokensUsed,
		"cost_usd":            result.Response.CostUSD,
		"state":               result.State,
	})
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (domain.TurnRequest, bool) {
	var body chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, domain.CodeValidation, "malformed request body")
		return domain.TurnRequest{}, false
	}
	if strings.TrimSpace(body.UserID) == "" {
		s.writeError(w, r, http.StatusBadRequest, domain.CodeValidation, "user_id is required")
		return domain.TurnRequest{}, false
	}
	if strings.TrimSpace(body.Message) == "" {
		s.writeError(w, r, http.StatusBadRequest, domain.CodeValidation, "message is required")
		return domain.TurnRequest{}, false
	}
	if body.BudgetUSD < 0 {
		s.writeError(w, r, http.StatusBadRequest, domain.CodeValidation, "budget_usd must not be negative")
		return domain.TurnRequest{}, false
	}

	return domain.TurnRequest{
		UserID:         body.UserID,
		ConversationID: body.ConversationID,
		Message:        body.Message,
		BudgetUSD:      body.BudgetUSD,
	}, true
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrBudgetExceeded):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusRequestTimeout
	case errors.Is(err, domain.ErrQuota):
		status = http.StatusTooManyRequests
	}
	s.logger.Error("turn failed",
		"error", err,
		"request_id", middleware.RequestIDFrom(r.Context()),
	)
	s.writeError(w, r, status, domain.ErrorCodeOf(err), err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code domain.ErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   msg,
		RequestID: middleware.RequestIDFrom(r.Context()),
	}}); err != nil {
		s.logger.Warn("write error response", "error", err)
	}
}

func emitEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// chunkWords splits text into groups of up to n words, preserving word
// boundaries. Single spaces join words within a chunk; a trailing space
// separates chunks so concatenation reconstructs the text.
func chunkWords(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(words); i += n {
		end := min(i+n, len(words))
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
