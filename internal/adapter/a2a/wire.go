// Package a2a implements the agent-to-agent invocation protocol: JSON-RPC 2.0
// over HTTP for request/response calls and SSE for streaming, plus the agent
// card and capability negotiation endpoints.
package a2a

import (
	"encoding/json"
	"errors"
	"net/http"

	"genesis-ngx/internal/domain"
)

// JSON-RPC protocol constants.
const (
	jsonrpcVersion = "2.0"

	// Standard JSON-RPC 2.0 codes.
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	// Implementation-defined codes.
	codeBudgetExceeded = -32001
	codeTimeout        = -32002
	codeQuota          = -32003
)

// Headers propagated on every invocation.
const (
	headerRequestID = "X-Request-ID"
	headerAgentID   = "X-Agent-ID"
	headerBudgetUSD = "X-Budget-USD"
)

// rpcRequest is the JSON-RPC 2.0 request envelope. The id is kept raw:
// JSON-RPC allows any JSON value there and it is only ever echoed back.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  map[string]any  `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope. Exactly one of Result
// and Error is set. A nil ID encodes as null, which is what a request whose
// id could not be read gets back.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

type rpcErrorData struct {
	Reason domain.ErrorCode `json:"reason"`
	Detail string           `json:"detail,omitempty"`
}

// invokeResult is the result object carried inside a successful response.
type invokeResult struct {
	Output    string         `json:"output"`
	Payload   map[string]any `json:"payload,omitempty"`
	Usage     domain.Usage   `json:"usage"`
	CostUSD   float64        `json:"cost_usd"`
	LatencyMS int64          `json:"latency_ms"`
}

// reasonInsufficientBudget is the fixed refusal reason for a negotiation
// whose budget does not cover the card's max cost per invocation.
const reasonInsufficientBudget = "insufficient_budget"

// NegotiateRequest asks an agent whether it can serve the given capability
// set under the given budget.
type NegotiateRequest struct {
	Capabilities []string `json:"capabilities"`
	BudgetUSD    float64  `json:"budget_usd"`
}

// NegotiateResponse is the agent's verdict. A capability refusal names every
// missing capability and what the agent does offer, so the caller can route
// elsewhere; a budget refusal names the minimum that would be accepted.
type NegotiateResponse struct {
	Accepted              bool             `json:"accepted"`
	MissingCapabilities   []string         `json:"missing_capabilities,omitempty"`
	AvailableCapabilities []string         `json:"available_capabilities,omitempty"`
	Reason                string           `json:"reason,omitempty"`
	MinimumBudgetUSD      float64          `json:"minimum_budget_usd,omitempty"`
	Limitations           *NegotiateLimits `json:"limitations,omitempty"`
}

// NegotiateLimits accompanies an acceptance with the agent's token ceilings.
type NegotiateLimits struct {
	MaxInputTokens  int `json:"max_input_tokens"`
	MaxOutputTokens int `json:"max_output_tokens"`
}

// messageForCode returns the fixed JSON-RPC error message for a code.
// Details go under error.data, never into the message itself.
func messageForCode(code int) string {
	switch code {
	case codeInvalidRequest:
		return "Invalid Request"
	case codeMethodNotFound:
		return "Method not found"
	case codeInvalidParams:
		return "Invalid params"
	case codeBudgetExceeded:
		return "Budget insufficient"
	case codeTimeout:
		return "Request timeout"
	case codeQuota:
		return "Quota exceeded"
	default:
		return "Internal error"
	}
}

// codeForError maps a handler error to its JSON-RPC code and HTTP status.
func codeForError(err error) (code int, status int) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, domain.ErrMethodNotFound):
		return codeMethodNotFound, http.StatusNotFound
	case errors.Is(err, domain.ErrBudgetExceeded):
		return codeBudgetExceeded, http.StatusPaymentRequired
	case errors.Is(err, domain.ErrTimeout):
		return codeTimeout, http.StatusRequestTimeout
	case errors.Is(err, domain.ErrQuota):
		return codeQuota, http.StatusTooManyRequests
	default:
		return codeInternal, http.StatusInternalServerError
	}
}

// errorForCode is the client-side inverse: it rebuilds a domain sentinel
// from the wire code so callers can use errors.Is across the network hop.
func errorForCode(code int, reason domain.ErrorCode) error {
	switch {
	case code == codeBudgetExceeded || reason == domain.CodeBudgetExceeded:
		return domain.ErrBudgetExceeded
	case code == codeInvalidRequest || code == codeInvalidParams || reason == domain.CodeValidation:
		return domain.ErrValidation
	case code == codeMethodNotFound:
		return domain.ErrMethodNotFound
	case code == codeTimeout || reason == domain.CodeTimeout:
		return domain.ErrTimeout
	case code == codeQuota || reason == domain.CodeQuota:
		return domain.ErrQuota
	default:
		return domain.ErrAgentEngine
	}
}
