package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

type ChatService interface {
	OpenConversation(ctx context.Context, partner UserID) error
	CloseConversation()
	ReloadConversations(ctx context.Context) error
	SendMessage(ctx context.Context, text string, attachmentIds []string) (Message, error)
	PostText(ctx context.Context, recipient UserID, text string) (Message, error)
	MarkRead(ctx context.Context, partner UserID) error
	HandleInbound(ctx context.Context, event InboundEvent)
	State() *ConversationState
	Tray() *Tray
}

type ChatRepository interface {
	GetConversations(ctx context.Context) ([]Conversation, error)
	GetMessages(ctx context.Context, partner UserID) ([]Message, error)
	SendMessage(ctx context.Context, message OutgoingMessage) (Message, error)
	MarkRead(ctx context.Context, partner UserID) error
	UploadAttachment(ctx context.Context, pending *PendingAttachment) (Attachment, error)
}

// Emitter writes an event on the realtime channel.
type Emitter interface {
	Emit(event string, data interface{}) error
}

// EventPublisher pushes an event to the UI clients of a user.
type EventPublisher interface {
	Publish(uid UserID, event string, data interface{})
}

type chatService struct {
	storage ChatRepository
	state   *ConversationState
	tray    *Tray
	emitter Emitter
	events  EventPublisher
}

func NewChatService(storage ChatRepository, state *ConversationState, tray *Tray, emitter Emitter, events EventPublisher) ChatService {
	return &chatService{
		storage: storage,
		state:   state,
		tray:    tray,
		emitter: emitter,
		events:  events,
	}
}

func (c *chatService) State() *ConversationState {
	return c.state
}

func (c *chatService) Tray() *Tray {
	return c.tray
}

// OpenConversation loads the messages exchanged with partner, marks them read
// and reloads the conversation list so the unread counter drops.
func (c *chatService) OpenConversation(ctx context.Context, partner UserID) error {
	generation := c.state.Open(partner)

	messages, err := c.storage.GetMessages(ctx, partner)
	if err != nil {
		return err
	}
	if !c.state.Load(generation, messages) {
		// Another conversation was opened meanwhile.
		return nil
	}
	c.events.Publish(c.state.Self(), EventReceiveMessage, c.state.Messages())

	if err := c.storage.MarkRead(ctx, partner); err != nil {
		log.Printf("Unable to mark conversation with %s as read: %v", partner, err)
	}
	return c.ReloadConversations(ctx)
}

func (c *chatService) CloseConversation() {
	c.state.Close()
}

func (c *chatService) ReloadConversations(ctx context.Context) error {
	conversations, err := c.storage.GetConversations(ctx)
	if err != nil {
		return err
	}
	if c.state.SetConversations(conversations) {
		c.events.Publish(c.state.Self(), EventConversations, conversations)
	}
	return nil
}

// SendMessage uploads the named pending attachments one by one, then posts the
// message to the open conversation.
func (c *chatService) SendMessage(ctx context.Context, text string, attachmentIds []string) (Message, error) {
	partner, generation := c.state.Partner()
	if partner.IsZero() {
		return Message{}, ErrNoConversation
	}
	text = strings.TrimSpace(text)
	if text == "" && len(attachmentIds) == 0 {
		return Message{}, ErrEmptyMessage
	}

	pending, err := c.tray.Take(attachmentIds)
	if err != nil {
		return Message{}, err
	}

	attachments := make([]Attachment, 0, len(pending))
	for i, p := range pending {
		attachment, err := c.storage.UploadAttachment(ctx, p)
		if err != nil {
			// Whatever was not uploaded goes back to the tray for a retry.
			c.tray.Add(pending[i:]...)
			return Message{}, fmt.Errorf("uploading %s: %w", p.Filename, err)
		}
		p.Release()
		attachments = append(attachments, attachment)
	}

	out := OutgoingMessage{
		RecipientId: partner,
		Text:        text,
		MessageType: messageTypeOf(attachments),
		Attachments: attachments,
	}
	if err := (Message{MessageType: out.MessageType, Attachments: out.Attachments}).Validate(); err != nil {
		return Message{}, err
	}

	sent, err := c.storage.SendMessage(ctx, out)
	if err != nil {
		return Message{}, err
	}
	c.delivered(ctx, generation, sent)
	return sent, nil
}

// PostText sends a plain text message to recipient, whether or not its
// conversation is open.
func (c *chatService) PostText(ctx context.Context, recipient UserID, text string) (Message, error) {
	sent, err := c.storage.SendMessage(ctx, OutgoingMessage{
		RecipientId: recipient,
		Text:        text,
		MessageType: MessageTypeText,
	})
	if err != nil {
		return Message{}, err
	}

	partner, generation := c.state.Partner()
	if partner == recipient {
		c.delivered(ctx, generation, sent)
	} else {
		c.emit(sent)
		if err := c.ReloadConversations(ctx); err != nil {
			log.Printf("Unable to reload conversations: %v", err)
		}
	}
	return sent, nil
}

func (c *chatService) delivered(ctx context.Context, generation uint64, sent Message) {
	c.state.Append(generation, sent)
	c.emit(sent)
	if err := c.ReloadConversations(ctx); err != nil {
		log.Printf("Unable to reload conversations: %v", err)
	}
}

// emit relays a persisted message to the recipient over the socket. The
// backend already stored it, so a closed channel only delays delivery.
func (c *chatService) emit(sent Message) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Emit(EventSendMessage, sent); err != nil {
		log.Printf("Unable to emit %s for message %s: %v", EventSendMessage, sent.Id, err)
	}
}

func (c *chatService) MarkRead(ctx context.Context, partner UserID) error {
	if err := c.storage.MarkRead(ctx, partner); err != nil {
		return err
	}
	return c.ReloadConversations(ctx)
}

// HandleInbound applies one realtime event. It is only called from the
// channel's dispatcher goroutine, one event at a time.
func (c *chatService) HandleInbound(ctx context.Context, event InboundEvent) {
	switch event.Event {
	case EventReceiveMessage:
		c.receive(ctx, event.Data)
	case EventConnect:
		log.Printf("Realtime channel connected")
	case EventReconnect:
		log.Printf("Realtime channel reconnected")
	case EventConnectError:
		log.Printf("Realtime channel connection error: %s", event.Data)
	default:
		log.Printf("Ignoring realtime event %q", event.Event)
	}
}

func (c *chatService) receive(ctx context.Context, data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Could not process incoming message: %v", err)
		return
	}

	self := c.state.Self()
	partner, generation := c.state.Partner()
	if !partner.IsZero() && (msg.SenderId == partner || msg.RecipientId == partner) {
		if c.state.Append(generation, msg) {
			msg.IsFromProfessional = !self.IsZero() && msg.SenderId == self
			c.events.Publish(self, EventReceiveMessage, []Message{msg})
		}
		if msg.SenderId == partner {
			go func() {
				if err := c.storage.MarkRead(context.WithoutCancel(ctx), partner); err != nil {
					log.Printf("Unable to mark conversation with %s as read: %v", partner, err)
				}
			}()
		}
	}

	if err := c.ReloadConversations(ctx); err != nil {
		log.Printf("Unable to reload conversations: %v", err)
	}
}

func messageTypeOf(attachments []Attachment) string {
	if len(attachments) == 0 {
		return MessageTypeText
	}
	for _, a := range attachments {
		if a.Type == AttachmentTypeDocument {
			return MessageTypeFile
		}
	}
	return MessageTypeImage
}
