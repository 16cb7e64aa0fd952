package api

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderRepository interface {
	CheckStock(ctx context.Context, product, size string) (StockCheck, error)
	AcceptOrder(ctx context.Context, req AcceptRequest) (OrderResult, error)
	RejectOrder(ctx context.Context, req RejectRequest) (OrderResult, error)
	// MarkOrderProcessed persists the processed flag of msg, the message as it
	// was loaded before the action.
	MarkOrderProcessed(ctx context.Context, msg Message) error
}

// Journal remembers which order messages were already handled.
type Journal interface {
	Record(ctx context.Context, action OrderAction) error
	Processed(ctx context.Context, messageId string) (bool, error)
	History(ctx context.Context, limit int) ([]OrderAction, error)
}

const (
	PromptConfirmProduct     = "confirm-product"
	PromptOverrideStockCheck = "override-stock-check"
)

const (
	NotificationLevelError   = "error"
	NotificationLevelSuccess = "success"
)

// Prompt is a blocking yes/no question asked to the professional.
type Prompt struct {
	Id         string         `json:"id"`
	Kind       string         `json:"kind"`
	Text       string         `json:"text"`
	Candidates []ProductMatch `json:"candidates,omitempty"`
}

type Prompter interface {
	Confirm(ctx context.Context, uid UserID, prompt Prompt) (bool, error)
}

type Notification struct {
	Level     string `json:"level"`
	Text      string `json:"text"`
	MessageId string `json:"messageId,omitempty"`
}

type Notifier interface {
	Notify(uid UserID, notification Notification)
}

// UI is everything the coordinator needs from the connected dashboard.
type UI interface {
	EventPublisher
	Prompter
	Notifier
}

// OrderCoordinator runs the accept and reject flows of order messages. A
// message goes from unprocessed to processed once; failures leave it
// unprocessed and are reported as notifications.
type OrderCoordinator struct {
	orders  OrderRepository
	chat    ChatService
	guard   Guard
	journal Journal
	ui      UI
}

// NewOrderCoordinator builds a coordinator. journal may be nil.
func NewOrderCoordinator(orders OrderRepository, chat ChatService, guard Guard, journal Journal, ui UI) *OrderCoordinator {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &OrderCoordinator{
		orders:  orders,
		chat:    chat,
		guard:   guard,
		journal: journal,
		ui:      ui,
	}
}

// Accept checks stock for the order in messageId, accepts it on the backend
// and posts the confirmation to the client.
func (c *OrderCoordinator) Accept(ctx context.Context, messageId string) error {
	err := c.run(ctx, messageId, func(msg Message, clientId UserID, order ParsedOrder) error {
		if err := c.checkStock(ctx, messageId, order); err != nil {
			return err
		}

		result, err := c.orders.AcceptOrder(ctx, AcceptRequest{
			MessageId:    messageId,
			OrderDetails: order,
			ClientId:     clientId,
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return &RemoteError{Kind: KindResponse, Op: "accept order", Message: result.Message}
		}

		if _, err := c.chat.PostText(ctx, clientId, FormatAcceptance(order)); err != nil {
			log.Printf("Unable to post confirmation for order %s: %v", messageId, err)
		}
		c.markProcessed(ctx, msg, OrderActionAccept, order, clientId)
		return nil
	})
	if err != nil {
		return err
	}

	c.ui.Notify(c.self(), Notification{Level: NotificationLevelSuccess, Text: "Commande acceptée.", MessageId: messageId})
	return nil
}

// Reject rejects the order in messageId and tells the client why.
func (c *OrderCoordinator) Reject(ctx context.Context, messageId string) error {
	err := c.run(ctx, messageId, func(msg Message, clientId UserID, order ParsedOrder) error {
		result, err := c.orders.RejectOrder(ctx, RejectRequest{MessageId: messageId, ClientId: clientId})
		if err != nil {
			return err
		}
		if !result.Success {
			return &RemoteError{Kind: KindResponse, Op: "reject order", Message: result.Message}
		}

		reason := strings.TrimSpace(result.Reason)
		if reason == "" {
			reason = DefaultRejectReason
		}
		if _, err := c.chat.PostText(ctx, clientId, FormatRejection(order, reason)); err != nil {
			log.Printf("Unable to post rejection for order %s: %v", messageId, err)
		}
		c.markProcessed(ctx, msg, OrderActionReject, order, clientId)
		return nil
	})
	if err != nil {
		return err
	}

	c.ui.Notify(c.self(), Notification{Level: NotificationLevelSuccess, Text: "Commande refusée.", MessageId: messageId})
	return nil
}

// History lists the most recent order actions, newest first.
func (c *OrderCoordinator) History(ctx context.Context, limit int) ([]OrderAction, error) {
	if c.journal == nil {
		return []OrderAction{}, nil
	}
	return c.journal.History(ctx, limit)
}

func (c *OrderCoordinator) self() UserID {
	return c.chat.State().Self()
}

// run does the checks shared by both flows, holds the guard for messageId
// while action runs and reports any failure.
func (c *OrderCoordinator) run(ctx context.Context, messageId string, action func(Message, UserID, ParsedOrder) error) error {
	err := c.guarded(ctx, messageId, action)
	if err != nil {
		log.Printf("Order action on message %s failed: %v", messageId, err)
		c.ui.Notify(c.self(), Notification{Level: NotificationLevelError, Text: NotificationText(err), MessageId: messageId})
	}
	return err
}

func (c *OrderCoordinator) guarded(ctx context.Context, messageId string, action func(Message, UserID, ParsedOrder) error) error {
	if err := c.processed(ctx, messageId); err != nil {
		return err
	}

	acquired, err := c.guard.Acquire(ctx, messageId)
	if err != nil {
		return fmt.Errorf("acquiring order guard: %w", err)
	}
	if !acquired {
		return ErrOrderInFlight
	}
	defer c.guard.Release(ctx, messageId)

	// The previous holder may have finished while we waited for the guard.
	if err := c.processed(ctx, messageId); err != nil {
		return err
	}

	msg, _ := c.chat.State().Message(messageId)
	if !IsValidOrderMessage(msg.Text) {
		return ErrInvalidOrder
	}
	order, err := ParseOrder(msg.Text)
	if err != nil {
		return err
	}

	clientId := msg.SenderId
	if msg.IsFromProfessional {
		clientId = msg.RecipientId
	}
	return action(msg, clientId, order)
}

func (c *OrderCoordinator) processed(ctx context.Context, messageId string) error {
	msg, ok := c.chat.State().Message(messageId)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.OrderProcessed {
		return ErrOrderAlreadyProcessed
	}
	if c.journal == nil {
		return nil
	}

	done, err := c.journal.Processed(ctx, messageId)
	if err != nil {
		log.Printf("Unable to read order journal for %s: %v", messageId, err)
		return nil
	}
	if done {
		c.chat.State().MarkOrderProcessed(messageId)
		return ErrOrderAlreadyProcessed
	}
	return nil
}

func (c *OrderCoordinator) checkStock(ctx context.Context, messageId string, order ParsedOrder) error {
	size := order.Size
	if size == SizeNotApplicable {
		size = ""
	}
	stock, err := c.orders.CheckStock(ctx, order.Product, size)
	if err != nil {
		log.Printf("Unable to check stock for %q: %v", order.Product, err)
		return c.confirm(ctx, Prompt{
			Kind: PromptOverrideStockCheck,
			Text: fmt.Sprintf("Impossible de vérifier le stock de « %s » (%s). Accepter la commande quand même ?", order.Product, NotificationText(err)),
		})
	}

	if stock.MultipleProducts && len(stock.Products) > 0 {
		err := c.confirm(ctx, Prompt{
			Kind:       PromptConfirmProduct,
			Text:       fmt.Sprintf("Plusieurs produits correspondent à « %s ». Continuer avec cette commande ?", order.Product),
			Candidates: stock.Products,
		})
		if err != nil {
			return err
		}
	}

	if order.Size != SizeNotApplicable && stock.SizeAvailable != nil && !*stock.SizeAvailable {
		if len(stock.AvailableSizes) > 0 {
			return fmt.Errorf("%w: %s (disponibles: %s)", ErrSizeUnavailable, order.Size, strings.Join(stock.AvailableSizes, ", "))
		}
		return fmt.Errorf("%w: %s", ErrSizeUnavailable, order.Size)
	}
	if !stock.Available || (stock.Stock != nil && *stock.Stock < order.Quantity) {
		return fmt.Errorf("%w for message %s", ErrStockUnavailable, messageId)
	}
	return nil
}

func (c *OrderCoordinator) confirm(ctx context.Context, prompt Prompt) error {
	prompt.Id = uuid.NewString()
	ok, err := c.ui.Confirm(ctx, c.self(), prompt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrderCancelled, err)
	}
	if !ok {
		return ErrOrderCancelled
	}
	return nil
}

// markProcessed records the terminal state everywhere it is kept. Only the
// local flag is required; the journal and the backend flag are best effort.
func (c *OrderCoordinator) markProcessed(ctx context.Context, msg Message, action string, order ParsedOrder, clientId UserID) {
	messageId := msg.Id
	c.chat.State().MarkOrderProcessed(messageId)

	if c.journal != nil {
		err := c.journal.Record(ctx, OrderAction{
			MessageId: messageId,
			Action:    action,
			Product:   order.Product,
			Size:      order.Size,
			Quantity:  order.Quantity,
			Total:     order.Total,
			Currency:  order.Currency,
			ClientId:  clientId.String(),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Printf("Unable to journal %s of message %s: %v", action, messageId, err)
		}
	}

	if err := c.orders.MarkOrderProcessed(ctx, msg); err != nil {
		log.Printf("Unable to flag message %s as processed: %v", messageId, err)
	}

	c.ui.Publish(c.self(), EventOrderProcessed, map[string]string{"messageId": messageId, "action": action})
}
