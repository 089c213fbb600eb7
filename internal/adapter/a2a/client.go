package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel/trace"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/tracer"
)

// Retry policy for remote invocations. Transient failures get three
// attempts with exponential backoff and jitter; validation and budget
// rejections are terminal and fail immediately.
const (
	retryAttempts  = 3
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 10 * time.Second
	retryMaxJitter = 300 * time.Millisecond
)

// maxResponseBody bounds response bodies read from remote agents.
const maxResponseBody = 4 * 1024 * 1024 // 4 MB

// Client is the caller side of the invocation protocol. It implements
// domain.Invoker for one remote agent.
type Client struct {
	baseURL    string
	agentID    string // remote agent id, used when the response omits it
	selfID     string // identifies this caller on the wire
	httpClient *http.Client
	logger     *slog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration
}

// NewClient creates a protocol client for the agent at baseURL.
// selfID identifies the calling agent on every request.
func NewClient(baseURL, agentID, selfID string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		agentID: agentID,
		selfID:  selfID,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    logger,
		baseDelay: retryBaseDelay,
		maxDelay:  retryMaxDelay,
		maxJitter: retryMaxJitter,
	}
}

// Invoke performs one JSON-RPC call with the standard retry policy.
func (c *Client) Invoke(ctx context.Context, req domain.InvocationRequest) (*domain.InvocationResult, error) {
	ctx, span := tracer.StartSpan(ctx, "a2a.client.invoke",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", c.agentID),
			tracer.StringAttr("rpc.method", req.Method),
		),
	)
	defer span.End()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonrpcVersion,
		Method:  req.Method,
		Params:  req.Params,
		ID:      json.RawMessage(strconv.Quote(req.RequestID)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	var result *domain.InvocationResult
	doErr := c.withRetry(ctx, func() error {
		res, callErr := c.doInvoke(ctx, req, body)
		if callErr != nil {
			return callErr
		}
		result = res
		return nil
	})
	if doErr != nil {
		tracer.RecordError(span, doErr)
		return nil, domain.WrapOp("a2a.Invoke "+c.agentID, doErr)
	}

	result.LatencyMS = time.Since(start).Milliseconds()
	c.logger.Debug("invocation completed",
		"agent_id", result.AgentID,
		"method", req.Method,
		"latency_ms", result.LatencyMS,
		"cost_usd", result.CostUSD,
	)
	tracer.SetOK(span)
	return result, nil
}

func (c *Client) doInvoke(ctx context.Context, req domain.InvocationRequest, body []byte) (*domain.InvocationResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, req)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Context deadline surfaces as a transport error; classify it as a
		// timeout so the retry policy treats it as transient.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAgentEngine, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrAgentEngine, err)
	}

	var envelope rpcResponse
	if unmarshalErr := json.Unmarshal(respBody, &envelope); unmarshalErr == nil && envelope.Error != nil {
		reason := domain.ErrorCode("")
		if envelope.Error.Data != nil {
			reason = envelope.Error.Data.Reason
		}
		return nil, fmt.Errorf("%w: %s", errorForCode(envelope.Error.Code, reason), envelope.Error.Message)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPStatus(httpResp.StatusCode, respBody)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("%w: response carries neither result nor error", domain.ErrAgentEngine)
	}

	var wire invokeResult
	if err := json.Unmarshal(envelope.Result, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", domain.ErrAgentEngine, err)
	}

	agentID := httpResp.Header.Get(headerAgentID)
	if agentID == "" {
		agentID = c.agentID
	}
	return &domain.InvocationResult{
		AgentID:   agentID,
		Method:    req.Method,
		Response:  wire.Output,
		Payload:   wire.Payload,
		Status:    domain.StatusSuccess,
		Usage:     wire.Usage,
		CostUSD:   wire.CostUSD,
		LatencyMS: wire.LatencyMS,
		CreatedAt: time.Now(),
	}, nil
}

// InvokeStream performs a streaming call. Chunks arrive on the returned
// channel; the terminal delta has Done set. The connection itself is subject
// to the retry policy, a stream that breaks mid-flight is not replayed.
func (c *Client) InvokeStream(ctx context.Context, req domain.InvocationRequest) (<-chan domain.StreamDelta, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonrpcVersion,
		Method:  req.Method,
		Params:  req.Params,
		ID:      json.RawMessage(strconv.Quote(req.RequestID)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var httpResp *http.Response
	doErr := c.withRetry(ctx, func() error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke/stream", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}
		c.setHeaders(httpReq, req)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, callErr := c.httpClient.Do(httpReq)
		if callErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrAgentEngine, callErr)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			var envelope rpcResponse
			if unmarshalErr := json.Unmarshal(respBody, &envelope); unmarshalErr == nil && envelope.Error != nil {
				reason := domain.ErrorCode("")
				if envelope.Error.Data != nil {
					reason = envelope.Error.Data.Reason
				}
				return fmt.Errorf("%w: %s", errorForCode(envelope.Error.Code, reason), envelope.Error.Message)
			}
			return mapHTTPStatus(resp.StatusCode, respBody)
		}
		httpResp = resp
		return nil
	})
	if doErr != nil {
		return nil, domain.WrapOp("a2a.InvokeStream "+c.agentID, doErr)
	}

	return parseSSEStream(ctx, httpResp.Body), nil
}

// Card fetches the remote agent's capability descriptor.
func (c *Client) Card(ctx context.Context) (*domain.AgentCard, error) {
	var card domain.AgentCard
	doErr := c.withRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/card", nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set(headerAgentID, c.selfID)

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAgentEngine, err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("%w: read response: %v", domain.ErrAgentEngine, err)
		}
		if httpResp.StatusCode != http.StatusOK {
			return mapHTTPStatus(httpResp.StatusCode, respBody)
		}
		return json.Unmarshal(respBody, &card)
	})
	if doErr != nil {
		return nil, domain.WrapOp("a2a.Card "+c.agentID, doErr)
	}
	return &card, nil
}

// Negotiate asks the remote agent whether it can serve the given
// capabilities under the given constraints. A refusal is a result, not an
// error; the error return covers transport failures only.
func (c *Client) Negotiate(ctx context.Context, req NegotiateRequest) (*NegotiateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal negotiation: %w", err)
	}

	var resp NegotiateResponse
	doErr := c.withRetry(ctx, func() error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/negotiate", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(headerAgentID, c.selfID)

		httpResp, callErr := c.httpClient.Do(httpReq)
		if callErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrAgentEngine, callErr)
		}
		defer httpResp.Body.Close()

		respBody, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
		if readErr != nil {
			return fmt.Errorf("%w: read response: %v", domain.ErrAgentEngine, readErr)
		}
		if httpResp.StatusCode != http.StatusOK {
			return mapHTTPStatus(httpResp.StatusCode, respBody)
		}
		return json.Unmarshal(respBody, &resp)
	})
	if doErr != nil {
		return nil, domain.WrapOp("a2a.Negotiate "+c.agentID, doErr)
	}
	return &resp, nil
}

// NegotiateTerms implements domain.Negotiator over the wire negotiation.
func (c *Client) NegotiateTerms(ctx context.Context, n domain.Negotiation) (*domain.NegotiationOutcome, error) {
	resp, err := c.Negotiate(ctx, NegotiateRequest{
		Capabilities: n.Capabilities,
		BudgetUSD:    n.BudgetUSD,
	})
	if err != nil {
		return nil, err
	}
	out := &domain.NegotiationOutcome{
		Accepted:              resp.Accepted,
		MissingCapabilities:   resp.MissingCapabilities,
		AvailableCapabilities: resp.AvailableCapabilities,
		Reason:                resp.Reason,
		MinimumBudgetUSD:      resp.MinimumBudgetUSD,
	}
	if resp.Limitations != nil {
		out.MaxInputTokens = resp.Limitations.MaxInputTokens
		out.MaxOutputTokens = resp.Limitations.MaxOutputTokens
	}
	return out, nil
}

// withRetry runs fn under the standard retry policy: exponential backoff
// with jitter, capped, retrying only transient failures.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(c.baseDelay),
		retry.MaxDelay(c.maxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.IsRetryable),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			d := retry.BackOffDelay(n, err, config)
			if d > c.maxDelay {
				d = c.maxDelay
			}
			return d + rand.N(c.maxJitter)
		}),
	)
	return r.Do(fn)
}

func (c *Client) setHeaders(httpReq *http.Request, req domain.InvocationRequest) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerRequestID, req.RequestID)
	httpReq.Header.Set(headerAgentID, c.selfID)
	if req.BudgetUSD > 0 {
		httpReq.Header.Set(headerBudgetUSD, strconv.FormatFloat(req.BudgetUSD, 'f', -1, 64))
	}
}

// mapHTTPStatus maps a non-200 response without a parseable RPC envelope to
// a domain error. 408 is kept distinct from generic failure so the retry
// policy treats timeouts as transient.
func mapHTTPStatus(statusCode int, body []byte) error {
	detail := fmt.Sprintf("http %d: %s", statusCode, truncate(body, 256))
	switch {
	case statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, detail)
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", domain.ErrBudgetExceeded, detail)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrQuota, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrAgentEngine, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrValidation, detail)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var (
	_ domain.Invoker    = (*Client)(nil)
	_ domain.Negotiator = (*Client)(nil)
)
