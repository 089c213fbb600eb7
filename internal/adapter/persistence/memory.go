package persistence

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"genesis-ngx/internal/domain"
)

// MemoryStore implements domain.ConversationStore in process memory.
// Used in mock mode and tests; contents are lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]string // conversation id -> user id
	messages      map[string][]storedMessage
	profiles      map[string]domain.UserContext
}

type storedMessage struct {
	ID         string
	UserID     string
	AgentType  string
	Content    string
	TokensUsed int
	CostUSD    float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]string),
		messages:      make(map[string][]storedMessage),
		profiles:      make(map[string]domain.UserContext),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID string) (string, error) {
	id := ulid.Make().String()
	s.mu.Lock()
	s.conversations[id] = userID
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) AppendUserMessage(ctx context.Context, conversationID, userID, content string) (string, error) {
	return s.append(conversationID, userID, userMessageType, content, 0, 0)
}

func (s *MemoryStore) AppendAgentMessage(_ context.Context, conversationID, userID, agentType, content string, tokensUsed int, costUSD float64) (string, error) {
	return s.append(conversationID, userID, agentType, content, tokensUsed, costUSD)
}

func (s *MemoryStore) append(conversationID, userID, agentType, content string, tokensUsed int, costUSD float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return "", domain.NewDomainError("MemoryStore.append", domain.ErrConversationNotFound, conversationID)
	}
	id := ulid.Make().String()
	s.messages[conversationID] = append(s.messages[conversationID], storedMessage{
		ID:         id,
		UserID:     userID,
		AgentType:  agentType,
		Content:    content,
		TokensUsed: tokensUsed,
		CostUSD:    costUSD,
	})
	return id, nil
}

func (s *MemoryStore) GetUserContext(_ context.Context, userID string) (*domain.UserContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if profile, ok := s.profiles[userID]; ok {
		out := profile
		return &out, nil
	}
	return &domain.UserContext{}, nil
}

// SetUserContext stores a user's profile.
func (s *MemoryStore) SetUserContext(_ context.Context, userID string, userCtx domain.UserContext) error {
	s.mu.Lock()
	s.profiles[userID] = userCtx
	s.mu.Unlock()
	return nil
}

// MessageCount returns how many messages a conversation holds.
func (s *MemoryStore) MessageCount(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}

var _ domain.ConversationStore = (*MemoryStore)(nil)
