package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type staticCredentials struct {
	mu      sync.Mutex
	token   string
	expired int
}

func (c *staticCredentials) Token() (string, error) {
	return c.token, nil
}

func (c *staticCredentials) Expire() {
	c.mu.Lock()
	c.expired++
	c.mu.Unlock()
}

// socketServer drops the first connection right after the room join, then on
// the second connection delivers one message for the open conversation.
type socketServer struct {
	t     *testing.T
	mu    sync.Mutex
	joins []string
	auth  []string
}

func (s *socketServer) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var join struct {
		Event string `json:"event"`
		Data  struct {
			UserId string `json:"userId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &join); err != nil || join.Event != EventJoinUserRoom {
		return
	}

	s.mu.Lock()
	s.joins = append(s.joins, join.Data.UserId)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	n := len(s.joins)
	s.mu.Unlock()

	if n == 1 {
		return
	}

	msg := `{"event":"receive-message","data":{"_id":"m1","senderId":"client","recipientId":"pro","text":"Bonjour","messageType":"text"}}`
	_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))

	// Keep the connection open until the client leaves.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestChannelReconnectDeliversOnce(t *testing.T) {
	server := &socketServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(server.handler))
	defer srv.Close()

	chat, repo, _, _ := newChatFixture(t)
	ctx := context.Background()
	if err := chat.OpenConversation(ctx, "client"); err != nil {
		t.Fatal(err)
	}
	reloads := repo.called("conversations")

	var mu sync.Mutex
	var events []string
	handler := func(ctx context.Context, ev InboundEvent) {
		mu.Lock()
		events = append(events, ev.Event)
		mu.Unlock()
		chat.HandleInbound(ctx, ev)
	}

	ch := NewChannel(ChannelConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectAttempts: 3,
		ReconnectDelay:    10 * time.Millisecond,
	}, &staticCredentials{token: "tok"})
	if err := ch.Connect(ctx, "pro", handler); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()

	waitFor(t, func() bool { return len(chat.State().Messages()) == 1 })
	ch.Close()

	if got := repo.called("conversations") - reloads; got != 1 {
		t.Errorf("conversation list reloaded %d times, want 1", got)
	}
	if n := len(chat.State().Messages()); n != 1 {
		t.Errorf("got %d messages, want 1", n)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventConnect, EventReconnect, EventReceiveMessage}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.joins) != 2 || server.joins[0] != "pro" || server.joins[1] != "pro" {
		t.Errorf("joins = %v, want the room joined on every connection", server.joins)
	}
	for _, auth := range server.auth {
		if auth != "Bearer tok" {
			t.Errorf("handshake authorization = %q", auth)
		}
	}
}

func TestChannelEmitWithoutConnection(t *testing.T) {
	ch := NewChannel(ChannelConfig{URL: "ws://127.0.0.1:1"}, &staticCredentials{token: "tok"})
	if err := ch.Emit(EventSendMessage, nil); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestChannelGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var mu sync.Mutex
	errorsSeen := 0
	handler := func(_ context.Context, ev InboundEvent) {
		if ev.Event == EventConnectError {
			mu.Lock()
			errorsSeen++
			mu.Unlock()
		}
	}

	ch := NewChannel(ChannelConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectAttempts: 2,
		ReconnectDelay:    5 * time.Millisecond,
	}, &staticCredentials{token: "tok"})
	if err := ch.Connect(context.Background(), "pro", handler); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errorsSeen == 3
	})
	ch.Close()
}

func TestChannelUnauthorizedExpiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &staticCredentials{token: "tok"}
	ch := NewChannel(ChannelConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectAttempts: 5,
		ReconnectDelay:    5 * time.Millisecond,
	}, creds)
	if err := ch.Connect(context.Background(), "pro", func(context.Context, InboundEvent) {}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		creds.mu.Lock()
		defer creds.mu.Unlock()
		return creds.expired == 1
	})
	ch.Close()

	creds.mu.Lock()
	defer creds.mu.Unlock()
	if creds.expired != 1 {
		t.Errorf("expired %d times, want 1", creds.expired)
	}
}
