package domain

import "context"

// UserContext is the per-user state supplied to consensus synthesis:
// the active training season/program and stated preferences.
type UserContext struct {
	ActiveSeason string            `json:"active_season,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
}

// ConversationStore is the persistence collaborator consumed by the core.
// All methods are fallible remote calls subject to the same retry/timeout
// discipline as A2A calls.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string) (string, error)
	AppendUserMessage(ctx context.Context, conversationID, userID, content string) (string, error)
	AppendAgentMessage(ctx context.Context, conversationID, userID, agentType, content string, tokensUsed int, costUSD float64) (string, error)
	GetUserContext(ctx context.Context, userID string) (*UserContext, error)
}
