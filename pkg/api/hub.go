package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

type delivery struct {
	uid     UserID
	payload []byte
}

type pendingPrompt struct {
	uid    UserID
	answer chan bool
}

// Hub maintains the set of active UI clients and relays events to them.
type Hub struct {
	// Registered clients.
	clients map[UserID][]*Client

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Events for every client of one user.
	send chan delivery

	done chan struct{}

	mu            sync.Mutex
	online        map[UserID]int
	prompts       map[string]pendingPrompt
	promptTimeout time.Duration
}

func NewHub(promptTimeout time.Duration) *Hub {
	return &Hub{
		send:          make(chan delivery),
		Register:      make(chan *Client),
		unregister:    make(chan *Client),
		clients:       make(map[UserID][]*Client),
		done:          make(chan struct{}),
		online:        make(map[UserID]int),
		prompts:       make(map[string]pendingPrompt),
		promptTimeout: promptTimeout,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for uid := range h.clients {
				for len(h.clients[uid]) > 0 {
					h.remove(h.clients[uid][0])
				}
			}
			return
		// Register Client
		case client := <-h.Register:
			h.clients[client.id] = append(h.clients[client.id], client)
			h.mu.Lock()
			h.online[client.id]++
			h.mu.Unlock()
		// Unregister Client
		case client := <-h.unregister:
			h.remove(client)
		// Send event to all clients of a user
		case d := <-h.send:
			for _, client := range append([]*Client(nil), h.clients[d.uid]...) {
				select {
				case client.send <- d.payload:
				default:
					h.remove(client)
				}
			}
		}
	}
}

// remove drops client if it is still registered and closes its send channel.
func (h *Hub) remove(client *Client) {
	clients := h.clients[client.id]
	for i := range clients {
		if clients[i] != client {
			continue
		}
		length := len(clients) - 1

		// Remove element at position i
		clients[i] = clients[length]
		clients[length] = nil
		h.clients[client.id] = clients[:length]

		// If no clients exist with id then remove key from clients map
		if length == 0 {
			delete(h.clients, client.id)
		}
		close(client.send)

		h.mu.Lock()
		if h.online[client.id]--; h.online[client.id] <= 0 {
			delete(h.online, client.id)
		}
		h.mu.Unlock()
		return
	}
}

// Publish sends event to every UI client of uid. Events for a user without
// clients are dropped.
func (h *Hub) Publish(uid UserID, event string, data interface{}) {
	payload, err := json.Marshal(outboundEvent{Event: event, Data: data})
	if err != nil {
		log.Printf("Could not process outgoing event %s: %v", event, err)
		return
	}
	select {
	case h.send <- delivery{uid: uid, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) Notify(uid UserID, notification Notification) {
	h.Publish(uid, EventNotification, notification)
}

func (h *Hub) Connected(uid UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online[uid] > 0
}

// Confirm asks the UI clients of uid and waits for the first answer. Without a
// connected client the prompt counts as declined.
func (h *Hub) Confirm(ctx context.Context, uid UserID, prompt Prompt) (bool, error) {
	if !h.Connected(uid) {
		return false, nil
	}

	answer := make(chan bool, 1)
	h.mu.Lock()
	h.prompts[prompt.Id] = pendingPrompt{uid: uid, answer: answer}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.prompts, prompt.Id)
		h.mu.Unlock()
	}()

	if h.promptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.promptTimeout)
		defer cancel()
	}

	h.Publish(uid, EventConfirmRequest, prompt)
	select {
	case confirmed := <-answer:
		return confirmed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve delivers the answer of a UI client to the waiting Confirm.
func (h *Hub) resolve(uid UserID, promptId string, confirmed bool) {
	h.mu.Lock()
	pending, ok := h.prompts[promptId]
	h.mu.Unlock()
	if !ok || pending.uid != uid {
		log.Printf("Ignoring answer to unknown prompt %q", promptId)
		return
	}
	select {
	case pending.answer <- confirmed:
	default:
	}
}
