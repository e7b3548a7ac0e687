package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"studyportal/internal/domain"
)

// Conversation is the per-user record the router mutates on every turn:
// the active agent (if any), the parameter scratchpad, and a bounded
// history. It is owned exclusively by the router; agents only ever see
// copies.
type Conversation struct {
	mu            sync.RWMutex
	ID            string // ULID, globally unique
	UserID        string
	activeAgentID string
	scratchpad    map[string]string
	history       []domain.Turn
	maxHistory    int
	createdAt     time.Time
	updatedAt     time.Time
}

// NewConversation creates an empty conversation for the given user.
// maxHistory bounds the retained turns; older entries are evicted.
func NewConversation(userID string, maxHistory int) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:         generateULID(now),
		UserID:     userID,
		scratchpad: make(map[string]string),
		maxHistory: maxHistory,
		createdAt:  now,
		updatedAt:  now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ActiveAgentID returns the agent currently gathering parameters, or "".
func (c *Conversation) ActiveAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeAgentID
}

// AwaitingParameters reports whether a task is in flight.
func (c *Conversation) AwaitingParameters() bool {
	return c.ActiveAgentID() != ""
}

// SetActiveAgent marks an agent as gathering parameters. Switching to a
// different agent resets the scratchpad so no values leak across topics.
func (c *Conversation) SetActiveAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeAgentID != agentID {
		c.scratchpad = make(map[string]string)
	}
	c.activeAgentID = agentID
	c.updatedAt = time.Now()
}

// ClearTask resets the active agent and scratchpad, keeping history.
// Used on abandonment, completion, and explicit clear.
func (c *Conversation) ClearTask() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeAgentID = ""
	c.scratchpad = make(map[string]string)
	c.updatedAt = time.Now()
}

// MergeScratchpad copies non-empty extracted values in. Existing keys are
// only overwritten by non-empty values, keeping gathering monotonic.
func (c *Conversation) MergeScratchpad(values map[string]string) {
	if len(values) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		if v == "" {
			continue
		}
		c.scratchpad[k] = v
	}
	c.updatedAt = time.Now()
}

// Scratchpad returns a copy of the collected parameter values.
func (c *Conversation) Scratchpad() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make(map[string]string, len(c.scratchpad))
	for k, v := range c.scratchpad {
		cp[k] = v
	}
	return cp
}

// AppendTurn adds a turn to the history, evicting the oldest entries past
// the configured cap.
func (c *Conversation) AppendTurn(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, domain.Turn{Role: role, Text: text, Timestamp: time.Now()})
	if c.maxHistory > 0 && len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.updatedAt = time.Now()
}

// History returns a copy of the retained turns.
func (c *Conversation) History() []domain.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.Turn, len(c.history))
	copy(cp, c.history)
	return cp
}

// RecentHistory returns a copy of the last n turns.
func (c *Conversation) RecentHistory(n int) []domain.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := 0
	if n > 0 && len(c.history) > n {
		start = len(c.history) - n
	}
	cp := make([]domain.Turn, len(c.history)-start)
	copy(cp, c.history[start:])
	return cp
}

// UpdatedAt returns the last mutation time.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// ConversationManager shards conversation state by user ID. It is the only
// mutable structure shared across turns; per-turn exclusivity is enforced
// by ConversationLocker, not here.
type ConversationManager struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxHistory    int
}

// NewConversationManager creates a manager. maxHistory is applied to every
// conversation it creates.
func NewConversationManager(maxHistory int) *ConversationManager {
	return &ConversationManager{
		conversations: make(map[string]*Conversation),
		maxHistory:    maxHistory,
	}
}

// GetOrCreate returns the user's conversation, creating it on first
// contact. Messages from unknown users therefore auto-create state rather
// than being rejected.
func (m *ConversationManager) GetOrCreate(userID string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[userID]; ok {
		return c
	}
	c := NewConversation(userID, m.maxHistory)
	m.conversations[userID] = c
	return c
}

// Get returns an existing conversation or ErrNotFound.
func (m *ConversationManager) Get(userID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[userID]
	if !ok {
		return nil, domain.NewDomainError("ConversationManager.Get", domain.ErrNotFound, userID)
	}
	return c, nil
}

// Delete removes a user's conversation. Called by the transport on
// session end.
func (m *ConversationManager) Delete(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, userID)
}

// Count returns the number of live conversations.
func (m *ConversationManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// ReapStale deletes conversations not updated within maxAge and returns
// the reaped user IDs.
func (m *ConversationManager) ReapStale(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	m.mu.RLock()
	var candidates []string
	for id, c := range m.conversations {
		if c.UpdatedAt().Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}
	return m.reapIfStale(candidates, cutoff)
}

// reapIfStale deletes the candidates that are still stale. A turn can land
// between the scan and the delete, so staleness is re-checked under the
// write lock.
func (m *ConversationManager) reapIfStale(candidates []string, cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []string
	for _, id := range candidates {
		c, ok := m.conversations[id]
		if !ok || !c.UpdatedAt().Before(cutoff) {
			continue
		}
		delete(m.conversations, id)
		reaped = append(reaped, id)
	}
	return reaped
}
