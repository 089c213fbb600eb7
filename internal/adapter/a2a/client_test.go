package a2a

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/logger"
)

func newFastClient(url string) *Client {
	c := NewClient(url, "blaze", "orchestrator", logger.Discard())
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	c.maxJitter = time.Millisecond
	return c
}

func invokeReq() domain.InvocationRequest {
	return domain.InvocationRequest{
		Protocol:  domain.ProtocolVersion,
		Method:    "handle_query",
		Params:    map[string]any{"text": "hola"},
		RequestID: "req-1",
		UserID:    "u1",
		BudgetUSD: 0.10,
	}
}

func TestClientInvokeRoundTrip(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := newFastClient(srv.URL)
	res, err := c.Invoke(context.Background(), invokeReq())
	require.NoError(t, err)

	assert.Equal(t, "blaze", res.AgentID)
	assert.Equal(t, "echo: hola", res.Response)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, 15, res.Usage.TotalTokens)
}

func TestClientInvokeBudgetExceededNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32001,"message":"too poor","data":{"reason":"BUDGET_EXCEEDED"}},"id":"req-1"}`))
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	_, err := c.Invoke(context.Background(), invokeReq())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBudgetExceeded), "err = %v", err)
	assert.Equal(t, int32(1), calls.Load(), "budget rejection must not be retried")
}

func TestClientInvokeValidationNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32600,"message":"bad","data":{"reason":"VALIDATION_ERROR"}},"id":""}`))
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	_, err := c.Invoke(context.Background(), invokeReq())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation), "err = %v", err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientInvokeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporary", http.StatusInternalServerError)
			return
		}
		w.Header().Set(headerAgentID, "blaze")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"output":"recovered","usage":{},"cost_usd":0,"latency_ms":1},"id":"req-1"}`))
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	res, err := c.Invoke(context.Background(), invokeReq())

	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Response)
	assert.Equal(t, int32(3), calls.Load(), "two failures then success")
}

func TestClientInvokeRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	_, err := c.Invoke(context.Background(), invokeReq())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAgentEngine), "err = %v", err)
	assert.Equal(t, int32(retryAttempts), calls.Load())
}

func TestClientInvokeTimeoutDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow agent", http.StatusRequestTimeout)
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	_, err := c.Invoke(context.Background(), invokeReq())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "408 must map to the timeout sentinel, got %v", err)
	assert.False(t, errors.Is(err, domain.ErrAgentEngine))
}

func TestClientSendsHeaders(t *testing.T) {
	var gotReqID, gotAgentID, gotBudget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReqID = r.Header.Get(headerRequestID)
		gotAgentID = r.Header.Get(headerAgentID)
		gotBudget = r.Header.Get(headerBudgetUSD)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{"output":"ok","usage":{}},"id":"req-1"}`))
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	_, err := c.Invoke(context.Background(), invokeReq())
	require.NoError(t, err)

	assert.Equal(t, "req-1", gotReqID)
	assert.Equal(t, "orchestrator", gotAgentID)
	assert.Equal(t, "0.1", gotBudget)
}

func TestClientCard(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := newFastClient(srv.URL)
	card, err := c.Card(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "blaze", card.ID)
	assert.Equal(t, domain.ProtocolVersion, card.Protocol)
}

func TestClientNegotiate(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := newFastClient(srv.URL)

	accepted, err := c.Negotiate(context.Background(), NegotiateRequest{
		Capabilities: []string{"strength_training"},
		BudgetUSD:    0.10,
	})
	require.NoError(t, err)
	assert.True(t, accepted.Accepted)
	require.NotNil(t, accepted.Limitations)
	assert.Equal(t, 8192, accepted.Limitations.MaxInputTokens)

	refused, err := c.Negotiate(context.Background(), NegotiateRequest{
		Capabilities: []string{"quantum_nutrition"},
		BudgetUSD:    0.10,
	})
	require.NoError(t, err, "a refusal is a result, not an error")
	assert.False(t, refused.Accepted)
	assert.Equal(t, []string{"quantum_nutrition"}, refused.MissingCapabilities)
	assert.Contains(t, refused.AvailableCapabilities, "strength_training")

	poor, err := c.Negotiate(context.Background(), NegotiateRequest{
		Capabilities: []string{"strength_training"},
		BudgetUSD:    0.01,
	})
	require.NoError(t, err)
	assert.False(t, poor.Accepted)
	assert.Equal(t, "insufficient_budget", poor.Reason)
	assert.Equal(t, 0.05, poor.MinimumBudgetUSD)
}

func TestClientInvokeStream(t *testing.T) {
	s := newTestServer(t)
	s.RegisterStream("handle_query", func(_ context.Context, _ map[string]any, emit func(string) error) error {
		for _, chunk := range []string{"uno", "dos"} {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := newFastClient(srv.URL)
	deltas, err := c.InvokeStream(context.Background(), invokeReq())
	require.NoError(t, err)

	var chunks []string
	sawDone := false
	for delta := range deltas {
		if delta.Done {
			sawDone = true
			continue
		}
		chunks = append(chunks, delta.Text)
	}
	assert.Equal(t, []string{"uno", "dos"}, chunks)
	assert.True(t, sawDone)
}
