package api

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

type fakeRepository struct {
	mu sync.Mutex

	calls         map[string]int
	conversations []Conversation
	messages      map[UserID][]Message
	sent          []OutgoingMessage
	nextId        int

	uploadFailAt int
	stock        StockCheck
	stockErr     error
	stockQueries [][2]string
	processed    []Message
	accept       OrderResult
	reject       OrderResult
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		calls:    make(map[string]int),
		messages: make(map[UserID][]Message),
		accept:   OrderResult{Success: true},
		reject:   OrderResult{Success: true},
	}
}

func (f *fakeRepository) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRepository) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeRepository) GetConversations(context.Context) ([]Conversation, error) {
	f.record("conversations")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Conversation(nil), f.conversations...), nil
}

func (f *fakeRepository) GetMessages(_ context.Context, partner UserID) ([]Message, error) {
	f.record("messages")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[partner]...), nil
}

func (f *fakeRepository) SendMessage(_ context.Context, message OutgoingMessage) (Message, error) {
	f.record("send")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	f.nextId++
	return Message{
		Id:          "sent-" + strconv.Itoa(f.nextId),
		SenderId:    "pro",
		RecipientId: message.RecipientId,
		Text:        message.Text,
		MessageType: message.MessageType,
		Attachments: message.Attachments,
	}, nil
}

func (f *fakeRepository) MarkRead(context.Context, UserID) error {
	f.record("mark-read")
	return nil
}

func (f *fakeRepository) UploadAttachment(_ context.Context, pending *PendingAttachment) (Attachment, error) {
	f.record("upload")
	if f.uploadFailAt > 0 && f.called("upload") == f.uploadFailAt {
		return Attachment{}, &RemoteError{Kind: KindNoResponse, Op: "upload attachment", Err: errors.New("connection reset")}
	}
	return Attachment{
		Type:     pending.Type(),
		Url:      "https://cdn.example.com/" + pending.Filename,
		Filename: pending.Filename,
		Size:     pending.Size,
		Mimetype: pending.Mimetype,
	}, nil
}

func (f *fakeRepository) CheckStock(_ context.Context, product, size string) (StockCheck, error) {
	f.record("check-stock")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stockQueries = append(f.stockQueries, [2]string{product, size})
	return f.stock, f.stockErr
}

func (f *fakeRepository) AcceptOrder(context.Context, AcceptRequest) (OrderResult, error) {
	f.record("accept")
	return f.accept, nil
}

func (f *fakeRepository) RejectOrder(context.Context, RejectRequest) (OrderResult, error) {
	f.record("reject")
	return f.reject, nil
}

func (f *fakeRepository) MarkOrderProcessed(_ context.Context, msg Message) error {
	f.record("mark-processed")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, msg)
	return nil
}

func (f *fakeRepository) lastSent() OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return OutgoingMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type publishedEvent struct {
	uid   UserID
	event string
	data  interface{}
}

type fakeUI struct {
	mu            sync.Mutex
	events        []publishedEvent
	notifications []Notification
	prompts       []Prompt
	confirm       bool
}

func (f *fakeUI) Publish(uid UserID, event string, data interface{}) {
	f.mu.Lock()
	f.events = append(f.events, publishedEvent{uid: uid, event: event, data: data})
	f.mu.Unlock()
}

func (f *fakeUI) Notify(_ UserID, n Notification) {
	f.mu.Lock()
	f.notifications = append(f.notifications, n)
	f.mu.Unlock()
}

func (f *fakeUI) Confirm(_ context.Context, _ UserID, p Prompt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.confirm, nil
}

func (f *fakeUI) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeUI) lastNotification() Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notifications) == 0 {
		return Notification{}
	}
	return f.notifications[len(f.notifications)-1]
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(event string, _ interface{}) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

type fakeJournal struct {
	mu        sync.Mutex
	processed map[string]bool
	recorded  []OrderAction
}

func (f *fakeJournal) Record(_ context.Context, action OrderAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, action)
	f.processed[action.MessageId] = true
	return nil
}

func (f *fakeJournal) Processed(_ context.Context, messageId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[messageId], nil
}

func (f *fakeJournal) History(context.Context, int) ([]OrderAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrderAction(nil), f.recorded...), nil
}
