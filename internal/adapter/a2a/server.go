package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/tracer"
)

// maxRequestBody bounds incoming request bodies.
const maxRequestBody = 1 * 1024 * 1024 // 1 MB

// keepAliveInterval is how often streaming responses emit a comment line to
// keep idle proxies from closing the connection.
const keepAliveInterval = 15 * time.Second

// MethodHandler executes one non-streaming method call.
type MethodHandler func(ctx context.Context, params map[string]any) (*domain.InvocationResult, error)

// StreamHandler executes one streaming method call, emitting chunks as they
// are produced. Returning an error after chunks were emitted terminates the
// stream without a terminal marker.
type StreamHandler func(ctx context.Context, params map[string]any, emit func(chunk string) error) error

type methodEntry struct {
	handler MethodHandler
	stream  StreamHandler
	schema  *jsonschema.Schema // nil = no param validation
}

// Server exposes one agent over the invocation protocol: the agent card,
// health, negotiation, and the invoke endpoints.
type Server struct {
	card      *domain.AgentCard
	methodsMu sync.RWMutex
	methods   map[string]*methodEntry
	logger    *slog.Logger
	addr      string
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a protocol server for the given agent card.
func NewServer(card *domain.AgentCard, addr string, logger *slog.Logger) *Server {
	return &Server{
		card:    card,
		methods: make(map[string]*methodEntry),
		logger:  logger,
		addr:    addr,
	}
}

// RegisterMethod adds a request/response method. schemaJSON, when non-nil,
// is compiled once and validates params on every call.
func (s *Server) RegisterMethod(name string, schemaJSON []byte, handler MethodHandler) error {
	entry := &methodEntry{handler: handler}
	if schemaJSON != nil {
		schema, err := jsonschema.NewCompiler().Compile(schemaJSON)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		entry.schema = schema
	}

	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()
	if existing, ok := s.methods[name]; ok {
		existing.handler = handler
		existing.schema = entry.schema
		return nil
	}
	s.methods[name] = entry
	return nil
}

// RegisterStream adds a streaming variant for a method.
func (s *Server) RegisterStream(name string, handler StreamHandler) {
	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()
	if existing, ok := s.methods[name]; ok {
		existing.stream = handler
		return
	}
	s.methods[name] = &methodEntry{stream: handler}
}

// Handler returns the protocol's HTTP handler. Exposed separately from
// Start so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /card", s.handleCard)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /negotiate", s.handleNegotiate)
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("POST /invoke/stream", s.handleInvokeStream)
	return mux
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("a2a listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler()}

	s.logger.Info("a2a server started", "agent_id", s.card.ID, "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("a2a serve: %w", err)
	}
	return nil
}

// BoundAddr returns the listen address after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	s.echoHeaders(w, r)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		s.logger.Error("card encode failed", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.echoHeaders(w, r)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"agent_id": s.card.ID,
	})
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	s.echoHeaders(w, r)

	var req NegotiateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "malformed negotiation request", http.StatusBadRequest)
		return
	}

	resp := s.negotiate(req)
	if !resp.Accepted {
		s.logger.Info("negotiation refused",
			"capabilities", req.Capabilities,
			"missing", resp.MissingCapabilities,
			"reason", resp.Reason,
		)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// negotiate checks the request against the card. Capability coverage first,
// then the budget. A budget below the card's max cost per invocation is
// always a refusal, an omitted budget included.
func (s *Server) negotiate(req NegotiateRequest) NegotiateResponse {
	var missing []string
	for _, name := range req.Capabilities {
		if !s.card.HasCapability(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return NegotiateResponse{
			Accepted:              false,
			MissingCapabilities:   missing,
			AvailableCapabilities: s.card.Capabilities,
		}
	}
	if req.BudgetUSD < s.card.Limits.MaxCostPerInvokeUSD {
		return NegotiateResponse{
			Accepted:         false,
			Reason:           reasonInsufficientBudget,
			MinimumBudgetUSD: s.card.Limits.MaxCostPerInvokeUSD,
		}
	}
	return NegotiateResponse{
		Accepted: true,
		Limitations: &NegotiateLimits{
			MaxInputTokens:  s.card.Limits.MaxInputTokens,
			MaxOutputTokens: s.card.Limits.MaxOutputTokens,
		},
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.StartSpan(r.Context(), "a2a.server.invoke",
		trace.WithAttributes(tracer.StringAttr("agent.id", s.card.ID)),
	)
	defer span.End()

	s.echoHeaders(w, r)

	req, entry, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	if entry.handler == nil {
		s.writeError(w, req.ID, http.StatusNotFound, codeMethodNotFound,
			domain.CodeMethodNotFound, "method has no request/response handler")
		return
	}

	result, err := entry.handler(ctx, req.Params)
	if err != nil {
		tracer.RecordError(span, err)
		code, status := codeForError(err)
		s.writeError(w, req.ID, status, code, domain.ErrorCodeOf(err), err.Error())
		return
	}

	s.writeResult(w, req.ID, result)
	tracer.SetOK(span)
}

func (s *Server) handleInvokeStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.StartSpan(r.Context(), "a2a.server.invoke_stream",
		trace.WithAttributes(tracer.StringAttr("agent.id", s.card.ID)),
	)
	defer span.End()

	s.echoHeaders(w, r)

	req, entry, ok := s.decodeInvoke(w, r)
	if !ok {
		return
	}
	if entry.stream == nil {
		s.writeError(w, req.ID, http.StatusNotFound, codeMethodNotFound,
			domain.CodeMethodNotFound, "method does not support streaming")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.writeError(w, req.ID, http.StatusInternalServerError, codeInternal,
			domain.CodeAgentEngine, "streaming unsupported by transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var writeMu sync.Mutex
	emit := func(chunk string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Comment lines keep idle connections open while the handler thinks.
	stopKeepAlive := make(chan struct{})
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				_, _ = io.WriteString(w, ":keep-alive\n\n")
				flusher.Flush()
				writeMu.Unlock()
			case <-stopKeepAlive:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err := entry.stream(ctx, req.Params, emit)
	close(stopKeepAlive)
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Warn("stream handler failed", "method", req.Method, "error", err)
		// The status line is already written; the missing terminal marker
		// tells the client the stream did not complete.
		return
	}

	writeMu.Lock()
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
	writeMu.Unlock()
	tracer.SetOK(span)
}

// decodeInvoke validates the envelope, budget header, method, and params.
// On failure it writes the error response and returns ok=false.
func (s *Server) decodeInvoke(w http.ResponseWriter, r *http.Request) (*rpcRequest, *methodEntry, bool) {
	var req rpcRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, nil, http.StatusBadRequest, codeInvalidRequest,
			domain.CodeValidation, "malformed JSON-RPC request")
		return nil, nil, false
	}
	if req.JSONRPC != jsonrpcVersion {
		s.writeError(w, req.ID, http.StatusBadRequest, codeInvalidRequest,
			domain.CodeValidation, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
		return nil, nil, false
	}
	if req.Method == "" {
		s.writeError(w, req.ID, http.StatusBadRequest, codeInvalidRequest,
			domain.CodeValidation, "missing method")
		return nil, nil, false
	}

	if raw := r.Header.Get(headerBudgetUSD); raw != "" {
		budget, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, req.ID, http.StatusBadRequest, codeInvalidRequest,
				domain.CodeValidation, "malformed "+headerBudgetUSD+" header")
			return nil, nil, false
		}
		if budget < s.card.Limits.MaxCostPerInvokeUSD {
			s.logger.Warn("invocation refused, budget below card maximum",
				"budget_usd", budget,
				"max_cost_usd", s.card.Limits.MaxCostPerInvokeUSD,
			)
			s.writeError(w, req.ID, http.StatusPaymentRequired, codeBudgetExceeded,
				domain.CodeBudgetExceeded,
				fmt.Sprintf("budget %.4f below agent maximum %.4f", budget, s.card.Limits.MaxCostPerInvokeUSD))
			return nil, nil, false
		}
	}

	s.methodsMu.RLock()
	entry, known := s.methods[req.Method]
	s.methodsMu.RUnlock()
	if !known {
		s.writeError(w, req.ID, http.StatusNotFound, codeMethodNotFound,
			domain.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return nil, nil, false
	}

	if entry.schema != nil {
		params := req.Params
		if params == nil {
			params = map[string]any{}
		}
		if result := entry.schema.Validate(params); !result.IsValid() {
			s.writeError(w, req.ID, http.StatusBadRequest, codeInvalidParams,
				domain.CodeValidation, "params failed schema validation")
			return nil, nil, false
		}
	}
	return &req, entry, true
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result *domain.InvocationResult) {
	payload, err := json.Marshal(invokeResult{
		Output:    result.Response,
		Payload:   result.Payload,
		Usage:     result.Usage,
		CostUSD:   result.CostUSD,
		LatencyMS: result.LatencyMS,
	})
	if err != nil {
		s.writeError(w, id, http.StatusInternalServerError, codeInternal,
			domain.CodeAgentEngine, "result marshal failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: jsonrpcVersion,
		Result:  payload,
		ID:      id,
	})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, status, code int, reason domain.ErrorCode, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: jsonrpcVersion,
		Error: &rpcError{
			Code:    code,
			Message: messageForCode(code),
			Data:    &rpcErrorData{Reason: reason, Detail: detail},
		},
		ID: id,
	})
}

// echoHeaders reflects the caller's request id, minting one when the caller
// sent none, and stamps this agent's id on every response.
func (s *Server) echoHeaders(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(headerRequestID, reqID)
	w.Header().Set(headerAgentID, s.card.ID)
}
