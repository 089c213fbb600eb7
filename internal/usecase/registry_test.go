package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"genesis-ngx/internal/domain"
	"genesis-ngx/internal/infra/logger"
)

func testSpecs() []AgentSpec {
	return []AgentSpec{
		{ID: "blaze", Name: "Blaze", Capabilities: []string{"strength_training"}, MinCostUSD: 0.01},
		{ID: "sage", Name: "Sage", Capabilities: []string{"nutrition_planning"}, MinCostUSD: 0.05},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testSpecs(), true, nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryInvokeUnknownAgent(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Invoke(context.Background(), "ghost", "handle_query", nil, "u1", 0.10)
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestRegistryInvokeBudgetBelowMinimum(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Invoke(context.Background(), "sage", "handle_query", nil, "u1", 0.01)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != domain.StatusBudgetExceeded {
		t.Errorf("status = %s, want %s", res.Status, domain.StatusBudgetExceeded)
	}
	if res.AgentID != "sage" {
		t.Errorf("agent_id = %s, want sage", res.AgentID)
	}
}

func TestRegistryInvokeMockMarker(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Invoke(context.Background(), "blaze", "handle_query", map[string]any{"text": "hola"}, "u1", 0.10)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if !strings.Contains(res.Response, "[mock:blaze]") {
		t.Errorf("response %q missing mock marker", res.Response)
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	specs := append(testSpecs(), AgentSpec{ID: "blaze"})
	if _, err := NewRegistry(specs, true, nil, logger.Discard()); err == nil {
		t.Fatal("duplicate agent id must be rejected")
	}
}

func TestRegistryRemoteWithoutDialer(t *testing.T) {
	specs := []AgentSpec{{ID: "blaze", Endpoint: "http://localhost:9001"}}
	if _, err := NewRegistry(specs, false, nil, logger.Discard()); err == nil {
		t.Fatal("remote target without dialer must be rejected")
	}
}

func TestRegistryReset(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Reset([]AgentSpec{{ID: "nova", Name: "Nova"}}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := r.Get("blaze"); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Error("old agent must be gone after reset")
	}
	if _, err := r.Get("nova"); err != nil {
		t.Errorf("new agent missing after reset: %v", err)
	}
}

func TestRegistryCard(t *testing.T) {
	r := newTestRegistry(t)

	card, err := r.Card(context.Background(), "sage")
	if err != nil {
		t.Fatalf("Card: %v", err)
	}
	if card.ID != "sage" || card.Protocol != domain.ProtocolVersion {
		t.Errorf("card = %+v", card)
	}
	if card.Limits.MaxCostPerInvokeUSD != 0.05 {
		t.Errorf("max cost = %v, want 0.05", card.Limits.MaxCostPerInvokeUSD)
	}
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry(t)

	specs := r.List()
	if len(specs) != 2 {
		t.Fatalf("len = %d, want 2", len(specs))
	}
	if specs[0].ID != "blaze" || specs[1].ID != "sage" {
		t.Errorf("not sorted by id: %v, %v", specs[0].ID, specs[1].ID)
	}
}

func TestRegistryNegotiate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	accepted, err := r.Negotiate(ctx, "sage", domain.Negotiation{
		Capabilities: []string{"nutrition_planning"},
		BudgetUSD:    0.10,
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !accepted.Accepted {
		t.Errorf("refused: %+v", accepted)
	}
	if accepted.MaxInputTokens == 0 || accepted.MaxOutputTokens == 0 {
		t.Errorf("acceptance must carry token ceilings, got %+v", accepted)
	}

	missing, err := r.Negotiate(ctx, "sage", domain.Negotiation{
		Capabilities: []string{"nutrition_planning", "strength_training"},
		BudgetUSD:    0.10,
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if missing.Accepted {
		t.Error("accepted despite missing capability")
	}
	if len(missing.MissingCapabilities) != 1 || missing.MissingCapabilities[0] != "strength_training" {
		t.Errorf("missing = %v", missing.MissingCapabilities)
	}
	if len(missing.AvailableCapabilities) != 1 || missing.AvailableCapabilities[0] != "nutrition_planning" {
		t.Errorf("available = %v", missing.AvailableCapabilities)
	}

	// A budget under the agent's max per invoke is a refusal.
	poor, err := r.Negotiate(ctx, "sage", domain.Negotiation{
		Capabilities: []string{"nutrition_planning"},
		BudgetUSD:    0.01,
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if poor.Accepted || poor.Reason != "insufficient_budget" {
		t.Errorf("outcome = %+v", poor)
	}
	if poor.MinimumBudgetUSD != 0.05 {
		t.Errorf("minimum_budget_usd = %v, want 0.05", poor.MinimumBudgetUSD)
	}

	// No budget at all is below the minimum, not a free pass.
	zero, err := r.Negotiate(ctx, "sage", domain.Negotiation{
		Capabilities: []string{"nutrition_planning"},
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if zero.Accepted || zero.Reason != "insufficient_budget" {
		t.Errorf("outcome = %+v", zero)
	}

	if _, err := r.Negotiate(ctx, "ghost", domain.Negotiation{}); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Errorf("err = %v, want ErrAgentNotFound", err)
	}
}
