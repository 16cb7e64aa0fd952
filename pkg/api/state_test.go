package api

import "testing"

func TestStateAppendDedupesAndMarksOwnMessages(t *testing.T) {
	s := NewConversationState("pro")
	gen := s.Open("client")

	if !s.Append(gen, Message{Id: "m1", SenderId: "client", RecipientId: "pro"}) {
		t.Fatal("first append should succeed")
	}
	if s.Append(gen, Message{Id: "m1", SenderId: "client", RecipientId: "pro"}) {
		t.Fatal("duplicate id should be dropped")
	}
	if !s.Append(gen, Message{Id: "m2", SenderId: "pro", RecipientId: "client"}) {
		t.Fatal("second message should be appended")
	}

	messages := s.Messages()
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].IsFromProfessional || !messages[1].IsFromProfessional {
		t.Errorf("isFromProfessional = %v, %v", messages[0].IsFromProfessional, messages[1].IsFromProfessional)
	}
}

func TestStateIgnoresStaleResults(t *testing.T) {
	s := NewConversationState("pro")
	old := s.Open("alice")
	current := s.Open("bob")

	if s.Load(old, []Message{{Id: "a1", SenderId: "alice"}}) {
		t.Error("load for a previous conversation should be ignored")
	}
	if !s.Load(current, []Message{{Id: "b1", SenderId: "bob"}}) {
		t.Error("load for the open conversation should apply")
	}

	s.Close()
	if s.Append(current, Message{Id: "b2", SenderId: "bob"}) {
		t.Error("append after close should be ignored")
	}
	if s.SetConversations([]Conversation{{ConversationId: "c"}}) {
		t.Error("conversation list after close should be ignored")
	}
	if len(s.Messages()) != 0 {
		t.Errorf("closed state still holds %d messages", len(s.Messages()))
	}
}

func TestStateMarkOrderProcessedIsIdempotent(t *testing.T) {
	s := NewConversationState("pro")
	gen := s.Open("client")
	s.Append(gen, Message{Id: "order", SenderId: "client", Text: sampleOrder})

	if !s.MarkOrderProcessed("order") {
		t.Fatal("first mark should change the flag")
	}
	if s.MarkOrderProcessed("order") {
		t.Error("second mark should be a no-op")
	}
	if s.MarkOrderProcessed("unknown") {
		t.Error("unknown message cannot be marked")
	}
	if msg, _ := s.Message("order"); !msg.OrderProcessed {
		t.Error("flag not set")
	}
}

func TestStateSetSelfResets(t *testing.T) {
	s := NewConversationState("pro")
	gen := s.Open("client")
	s.Append(gen, Message{Id: "m1"})
	s.SetConversations([]Conversation{{ConversationId: "c1"}})

	s.SetSelf("other")
	if len(s.Messages()) != 0 || len(s.Conversations()) != 0 {
		t.Error("switching identity should drop loaded data")
	}
	if partner, _ := s.Partner(); !partner.IsZero() {
		t.Errorf("partner = %q, want none", partner)
	}
}
