package domain

import "encoding/json"

// ProtocolVersion is the A2A protocol revision spoken by this module.
const ProtocolVersion = "a2a/1.0"

// AgentCard is the static capability descriptor published by every agent.
// It is built once at agent startup and never mutated afterwards; the
// registry and the negotiation endpoint both read from it.
type AgentCard struct {
	ID           string         `json:"agent_id"      yaml:"agent_id"`
	Name         string         `json:"name"          yaml:"name"`
	Version      string         `json:"version"       yaml:"version"`
	Protocol     string         `json:"protocol"      yaml:"protocol"`
	Capabilities []string       `json:"capabilities"  yaml:"capabilities"`
	Methods      []MethodSpec   `json:"methods"       yaml:"methods"`
	Limits       ResourceLimits `json:"limits"        yaml:"limits"`
	Privacy      PrivacyFlags   `json:"privacy"       yaml:"privacy"`
	Auth         AuthSpec       `json:"auth"          yaml:"auth"`
}

// MethodSpec describes a single method an agent exposes over A2A.
// ParamsSchema, when present, is a JSON Schema the server validates
// invocation params against before dispatch.
type MethodSpec struct {
	Name         string          `json:"name"                    yaml:"name"`
	Description  string          `json:"description"             yaml:"description"`
	ParamsSchema json.RawMessage `json:"params_schema,omitempty" yaml:"params_schema,omitempty"`
}

// ResourceLimits bounds what a single invocation of the agent may consume.
type ResourceLimits struct {
	MaxInputTokens      int     `json:"max_input_tokens"        yaml:"max_input_tokens"`
	MaxOutputTokens     int     `json:"max_output_tokens"       yaml:"max_output_tokens"`
	MaxLatencyMS        int     `json:"max_latency_ms"          yaml:"max_latency_ms"`
	MaxCostPerInvokeUSD float64 `json:"max_cost_per_invoke_usd" yaml:"max_cost_per_invoke_usd"`
}

// PrivacyFlags declares what classes of sensitive data the agent handles.
type PrivacyFlags struct {
	HandlesPII bool `json:"handles_pii" yaml:"handles_pii"`
	HandlesPHI bool `json:"handles_phi" yaml:"handles_phi"`
}

// AuthSpec declares the agent's authentication requirements.
type AuthSpec struct {
	Required bool     `json:"required"          yaml:"required"`
	Schemes  []string `json:"schemes,omitempty" yaml:"schemes,omitempty"`
}

// HasCapability reports whether the card advertises the given capability tag.
func (c *AgentCard) HasCapability(tag string) bool {
	for _, cap := range c.Capabilities {
		if cap == tag {
			return true
		}
	}
	return false
}

// Method returns the spec for the named method, if the card exposes it.
func (c *AgentCard) Method(name string) (*MethodSpec, bool) {
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			return &c.Methods[i], true
		}
	}
	return nil, false
}
