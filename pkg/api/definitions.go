package api

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"

	AttachmentTypeImage    = "image"
	AttachmentTypeDocument = "document"
)

type Message struct {
	Id             string       `json:"_id"`
	SenderId       UserID       `json:"senderId"`
	RecipientId    UserID       `json:"recipientId"`
	Text           string       `json:"text"`
	MessageType    string       `json:"messageType"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	IsRead         bool         `json:"isRead"`
	OrderProcessed bool         `json:"orderProcessed"`

	// Computed locally, never sent back to the backend.
	IsFromProfessional bool `json:"isFromProfessional"`
}

// Validate checks that a non-text message carries at least one attachment.
func (m Message) Validate() error {
	switch m.MessageType {
	case "", MessageTypeText:
		return nil
	case MessageTypeImage, MessageTypeFile:
		if len(m.Attachments) == 0 {
			return ErrMissingAttachment
		}
		return nil
	default:
		return ErrUnknownMessageType
	}
}

type Attachment struct {
	Type      string `json:"type"`
	Url       string `json:"url"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Mimetype  string `json:"mimetype"`
	Optimized bool   `json:"optimized"`
}

type Conversation struct {
	ConversationId string      `json:"conversationId"`
	OtherPerson    Participant `json:"otherPerson"`
	LastMessage    *Message    `json:"lastMessage,omitempty"`
	UnreadCount    int         `json:"unreadCount"`
}

type Participant struct {
	Id     UserID  `json:"_id"`
	Name   string  `json:"name"`
	Email  string  `json:"email,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

// OutgoingMessage is the body of POST /messages.
type OutgoingMessage struct {
	RecipientId UserID       `json:"recipientId" validate:"required"`
	Text        string       `json:"text"`
	MessageType string       `json:"messageType"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type ParsedOrder struct {
	Product  string          `json:"product"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Size     string          `json:"size"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type ProductMatch struct {
	Id    string          `json:"_id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// StockCheck is the answer of GET /products/check-stock.
type StockCheck struct {
	Available        bool           `json:"available"`
	Stock            *int           `json:"stock,omitempty"`
	SizeAvailable    *bool          `json:"sizeAvailable,omitempty"`
	AvailableSizes   []string       `json:"availableSizes,omitempty"`
	MultipleProducts bool           `json:"multipleProducts"`
	Products         []ProductMatch `json:"products,omitempty"`
	Message          string         `json:"message,omitempty"`
}

type AcceptRequest struct {
	MessageId    string      `json:"messageId" validate:"required"`
	OrderDetails ParsedOrder `json:"orderDetails"`
	ClientId     UserID      `json:"clientId" validate:"required"`
}

type RejectRequest struct {
	MessageId string `json:"messageId" validate:"required"`
	ClientId  UserID `json:"clientId" validate:"required"`
}

type OrderResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	OrderId string `json:"orderId,omitempty"`
}

const (
	OrderActionAccept = "accept"
	OrderActionReject = "reject"
)

// OrderAction is one row of the processed-orders journal.
type OrderAction struct {
	MessageId string          `db:"message_id" json:"messageId"`
	Action    string          `db:"action" json:"action"`
	Product   string          `db:"product" json:"product"`
	Size      string          `db:"size" json:"size"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Total     decimal.Decimal `db:"total" json:"total"`
	Currency  string          `db:"currency" json:"currency"`
	ClientId  string          `db:"client_id" json:"clientId"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// Socket and UI event names.
const (
	EventJoinUserRoom   = "join-user-room"
	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"
	EventConnect        = "connect"
	EventReconnect      = "reconnect"
	EventConnectError   = "connect_error"

	EventConversations   = "conversations"
	EventNotification    = "notification"
	EventConfirmRequest  = "confirm-request"
	EventConfirmResponse = "confirm-response"
	EventSessionExpired  = "session-expired"
	EventOrderProcessed  = "order-processed"
)
