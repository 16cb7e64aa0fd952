package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	jsonPatch "github.com/evanphx/json-patch/v5"

	"proMessenger/pkg/api"
)

type Storage interface {
	GetConversations(ctx context.Context) ([]api.Conversation, error)
	GetMessages(ctx context.Context, partner api.UserID) ([]api.Message, error)
	SendMessage(ctx context.Context, message api.OutgoingMessage) (api.Message, error)
	MarkRead(ctx context.Context, partner api.UserID) error
	UploadAttachment(ctx context.Context, pending *api.PendingAttachment) (api.Attachment, error)
	CheckStock(ctx context.Context, product, size string) (api.StockCheck, error)
	AcceptOrder(ctx context.Context, req api.AcceptRequest) (api.OrderResult, error)
	RejectOrder(ctx context.Context, req api.RejectRequest) (api.OrderResult, error)
	MarkOrderProcessed(ctx context.Context, msg api.Message) error
}

type storage struct {
	client *Client
}

func NewStorage(client *Client) Storage {
	return &storage{client: client}
}

func (s *storage) GetConversations(ctx context.Context) ([]api.Conversation, error) {
	var raw json.RawMessage
	if err := s.client.getJSON(ctx, "get conversations", "/messages/conversations", nil, &raw); err != nil {
		return nil, err
	}

	conversations := []api.Conversation{}
	if err := decodeList(raw, &conversations, "conversations", "data"); err != nil {
		return nil, &api.RemoteError{Kind: api.KindResponse, Op: "get conversations", Status: http.StatusOK, Message: "invalid response body", Err: err}
	}
	return conversations, nil
}

func (s *storage) GetMessages(ctx context.Context, partner api.UserID) ([]api.Message, error) {
	var raw json.RawMessage
	path := "/messages/" + url.PathEscape(partner.String())
	if err := s.client.getJSON(ctx, "get messages", path, nil, &raw); err != nil {
		return nil, err
	}

	messages := []api.Message{}
	if err := decodeList(raw, &messages, "messages", "data"); err != nil {
		return nil, &api.RemoteError{Kind: api.KindResponse, Op: "get messages", Status: http.StatusOK, Message: "invalid response body", Err: err}
	}
	return messages, nil
}

func (s *storage) SendMessage(ctx context.Context, message api.OutgoingMessage) (api.Message, error) {
	var raw json.RawMessage
	if err := s.client.sendJSON(ctx, "send message", http.MethodPost, "/messages", "", message, &raw); err != nil {
		return api.Message{}, err
	}

	var sent api.Message
	if err := decodeObject(raw, &sent, "message", "data"); err != nil {
		return api.Message{}, &api.RemoteError{Kind: api.KindResponse, Op: "send message", Status: http.StatusOK, Message: "invalid response body", Err: err}
	}
	return sent, nil
}

func (s *storage) MarkRead(ctx context.Context, partner api.UserID) error {
	path := "/messages/mark-read/" + url.PathEscape(partner.String())
	return s.client.do(ctx, request{op: "mark read", method: http.MethodPost, path: path}, nil)
}

// UploadAttachment sends one pending file as multipart field "file".
func (s *storage) UploadAttachment(ctx context.Context, pending *api.PendingAttachment) (api.Attachment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, pending.Filename))
	header.Set("Content-Type", pending.Mimetype)
	part, err := writer.CreatePart(header)
	if err != nil {
		return api.Attachment{}, &api.RemoteError{Kind: api.KindRequest, Op: "upload attachment", Err: err}
	}
	if _, err := part.Write(pending.Data); err != nil {
		return api.Attachment{}, &api.RemoteError{Kind: api.KindRequest, Op: "upload attachment", Err: err}
	}
	if err := writer.Close(); err != nil {
		return api.Attachment{}, &api.RemoteError{Kind: api.KindRequest, Op: "upload attachment", Err: err}
	}

	var raw json.RawMessage
	err = s.client.do(ctx, request{
		op:          "upload attachment",
		method:      http.MethodPost,
		path:        "/uploads/message",
		body:        &body,
		contentType: writer.FormDataContentType(),
	}, &raw)
	if err != nil {
		return api.Attachment{}, err
	}

	var attachment api.Attachment
	if err := decodeObject(raw, &attachment, "file", "attachment", "data"); err != nil {
		return api.Attachment{}, &api.RemoteError{Kind: api.KindResponse, Op: "upload attachment", Status: http.StatusOK, Message: "invalid response body", Err: err}
	}

	// The backend only guarantees the url, the rest is known locally.
	if attachment.Type == "" {
		attachment.Type = pending.Type()
	}
	if attachment.Filename == "" {
		attachment.Filename = pending.Filename
	}
	if attachment.Mimetype == "" {
		attachment.Mimetype = pending.Mimetype
	}
	if attachment.Size == 0 {
		attachment.Size = pending.Size
	}
	attachment.Optimized = attachment.Optimized || pending.Optimized
	return attachment, nil
}

func (s *storage) CheckStock(ctx context.Context, product, size string) (api.StockCheck, error) {
	query := url.Values{}
	query.Set("productName", product)
	if size != "" {
		query.Set("size", size)
	}

	var stock api.StockCheck
	if err := s.client.getJSON(ctx, "check stock", "/products/check-stock", query, &stock); err != nil {
		return api.StockCheck{}, err
	}
	return stock, nil
}

func (s *storage) AcceptOrder(ctx context.Context, req api.AcceptRequest) (api.OrderResult, error) {
	var result api.OrderResult
	err := s.client.sendJSON(ctx, "accept order", http.MethodPost, "/orders/accept", "", req, &result)
	return result, err
}

func (s *storage) RejectOrder(ctx context.Context, req api.RejectRequest) (api.OrderResult, error) {
	var result api.OrderResult
	err := s.client.sendJSON(ctx, "reject order", http.MethodPost, "/orders/reject", "", req, &result)
	return result, err
}

// MarkOrderProcessed sends the difference between msg and its processed copy
// as a JSON merge patch. Nothing is sent when msg is already processed.
func (s *storage) MarkOrderProcessed(ctx context.Context, msg api.Message) error {
	original, err := json.Marshal(msg)
	if err != nil {
		return &api.RemoteError{Kind: api.KindRequest, Op: "mark order processed", Err: err}
	}
	processed := msg
	processed.OrderProcessed = true
	modified, err := json.Marshal(processed)
	if err != nil {
		return &api.RemoteError{Kind: api.KindRequest, Op: "mark order processed", Err: err}
	}

	patch, err := jsonPatch.CreateMergePatch(original, modified)
	if err != nil {
		log.Printf("Creating merge patch for message %s: %v", msg.Id, err)
		return &api.RemoteError{Kind: api.KindRequest, Op: "mark order processed", Err: err}
	}
	if bytes.Equal(bytes.TrimSpace(patch), []byte("{}")) {
		return nil
	}

	return s.client.do(ctx, request{
		op:          "mark order processed",
		method:      http.MethodPatch,
		path:        "/messages/" + url.PathEscape(msg.Id),
		body:        bytes.NewReader(patch),
		contentType: "application/merge-patch+json",
	}, nil)
}
