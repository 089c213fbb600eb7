package domain

// TurnState is a state of the orchestration state machine for one user turn.
type TurnState string

const (
	TurnReceived   TurnState = "received"
	TurnClassified TurnState = "classified"
	TurnSafetyHalt TurnState = "safety_halt"
	TurnDispatched TurnState = "dispatched"
	TurnConsensus  TurnState = "consensus"
	TurnDone       TurnState = "done"
)

// TurnRequest is one user message entering the orchestrator.
type TurnRequest struct {
	UserID         string       `json:"user_id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Message        string       `json:"message"`
	BudgetUSD      float64      `json:"budget_usd,omitempty"` // 0 = orchestrator default
	Context        *UserContext `json:"context,omitempty"`
}

// TurnResult is the orchestrator's final answer for one turn.
type TurnResult struct {
	ConversationID  string               `json:"conversation_id,omitempty"`
	Response        ConsensusResult      `json:"response"`
	Classification  IntentClassification `json:"classification"`
	AgentsConsulted []string             `json:"agents_consulted"`
	State           TurnState            `json:"state"`
	Results         []InvocationResult   `json:"results,omitempty"` // per-agent outcomes, failures included
}
