package api

import "sync"

// ConversationState is the local projection the UI renders: the open
// conversation's messages and the conversation list. Every Open or Close
// starts a new generation; results computed for an older generation are
// dropped instead of applied.
type ConversationState struct {
	mu sync.RWMutex

	self       UserID
	partner    UserID
	generation uint64
	closed     bool

	messages      []Message
	index         map[string]int
	conversations []Conversation
}

func NewConversationState(self UserID) *ConversationState {
	return &ConversationState{self: self, index: make(map[string]int)}
}

func (s *ConversationState) Self() UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// SetSelf switches the identity and drops everything loaded for the previous one.
func (s *ConversationState) SetSelf(self UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.self == self {
		return
	}
	s.self = self
	s.partner = ""
	s.generation++
	s.messages = nil
	s.index = make(map[string]int)
	s.conversations = nil
}

// Open makes partner the open conversation and returns the new generation.
func (s *ConversationState) Open(partner UserID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = false
	s.partner = partner
	s.generation++
	s.messages = nil
	s.index = make(map[string]int)
	return s.generation
}

// Close marks the view as gone. Later results are ignored until the next Open.
func (s *ConversationState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.partner = ""
	s.generation++
	s.messages = nil
	s.index = make(map[string]int)
}

func (s *ConversationState) Partner() (UserID, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partner, s.generation
}

func (s *ConversationState) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *ConversationState) current(generation uint64) bool {
	return !s.closed && s.generation == generation
}

// Load replaces the open conversation's messages.
func (s *ConversationState) Load(generation uint64, messages []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(generation) {
		return false
	}
	s.messages = make([]Message, 0, len(messages))
	s.index = make(map[string]int, len(messages))
	for _, m := range messages {
		s.appendLocked(m)
	}
	return true
}

// Append adds msg to the open conversation. It returns false for stale
// generations and for a message id already present.
func (s *ConversationState) Append(generation uint64, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(generation) {
		return false
	}
	return s.appendLocked(msg)
}

func (s *ConversationState) appendLocked(msg Message) bool {
	if msg.Id != "" {
		if _, dup := s.index[msg.Id]; dup {
			return false
		}
		s.index[msg.Id] = len(s.messages)
	}
	msg.IsFromProfessional = !s.self.IsZero() && msg.SenderId == s.self
	s.messages = append(s.messages, msg)
	return true
}

func (s *ConversationState) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

func (s *ConversationState) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i], true
}

// MarkOrderProcessed sets the flag on a loaded message. It reports whether the
// flag changed; marking twice is a no-op.
func (s *ConversationState) MarkOrderProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok || s.messages[i].OrderProcessed {
		return false
	}
	s.messages[i].OrderProcessed = true
	return true
}

// SetConversations replaces the conversation list. It is a full reload, the
// list is never patched.
func (s *ConversationState) SetConversations(conversations []Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conversations = conversations
	return true
}

func (s *ConversationState) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations := make([]Conversation, len(s.conversations))
	copy(conversations, s.conversations)
	return conversations
}
