package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

const inboundBuffer = 64

// InboundEvent is one event received on, or synthesized by, the realtime channel.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Credentials supplies the bearer token of the socket handshake.
type Credentials interface {
	Token() (string, error)
	Expire()
}

type ChannelConfig struct {
	URL               string
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration
}

// Channel keeps one realtime connection for the logged-in user. Inbound events
// are queued and handed to a single dispatcher goroutine in arrival order.
type Channel struct {
	cfg    ChannelConfig
	creds  Credentials
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewChannel(cfg ChannelConfig, creds Credentials) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Channel{
		cfg:    cfg,
		creds:  creds,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Connect opens the channel for userId and joins its room. Any previous
// connection is closed first, so at most one is live per process.
func (ch *Channel) Connect(ctx context.Context, userId UserID, handler func(context.Context, InboundEvent)) error {
	if ch.cfg.URL == "" {
		return errors.New("realtime channel url not configured")
	}
	if userId.IsZero() {
		return errors.New("realtime channel needs a user id")
	}
	ch.Close()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inbound := make(chan InboundEvent, inboundBuffer)
	done := make(chan struct{})

	ch.mu.Lock()
	ch.cancel = cancel
	ch.done = done
	ch.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for event := range inbound {
			handler(runCtx, event)
		}
	}()
	go func() {
		defer wg.Done()
		ch.run(runCtx, userId, inbound)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

// Close tears the connection down and waits for the dispatcher to drain.
func (ch *Channel) Close() {
	ch.mu.Lock()
	cancel, done, conn := ch.cancel, ch.done, ch.conn
	ch.cancel, ch.done = nil, nil
	ch.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Emit writes one event on the live connection.
func (ch *Channel) Emit(event string, data interface{}) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(outboundEvent{Event: event, Data: data})
	if err != nil {
		return err
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (ch *Channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn != nil
}

func (ch *Channel) setConn(conn *websocket.Conn) {
	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()
}

func (ch *Channel) run(ctx context.Context, userId UserID, inbound chan<- InboundEvent) {
	defer close(inbound)

	joined := false
	for {
		conn, err := ch.dial(ctx, inbound)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Giving up on realtime channel: %v", err)
			}
			return
		}
		ch.setConn(conn)

		if err := ch.Emit(EventJoinUserRoom, map[string]string{"userId": userId.String()}); err != nil {
			log.Printf("Unable to join room of %s: %v", userId, err)
			ch.setConn(nil)
			_ = conn.Close()
			continue
		}
		if joined {
			push(ctx, inbound, InboundEvent{Event: EventReconnect})
		} else {
			push(ctx, inbound, InboundEvent{Event: EventConnect})
			joined = true
		}

		ch.readLoop(ctx, conn, inbound)
		ch.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		log.Printf("Realtime channel dropped, reconnecting")
	}
}

func (ch *Channel) dial(ctx context.Context, inbound chan<- InboundEvent) (*websocket.Conn, error) {
	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(ch.cfg.ReconnectAttempts, retry.NewConstant(ch.cfg.ReconnectDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := ch.creds.Token()
		if err != nil {
			return err
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		c, resp, err := ch.dialer.DialContext(ctx, ch.cfg.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				ch.creds.Expire()
				return ErrUnauthorized
			}
			data, _ := json.Marshal(err.Error())
			push(ctx, inbound, InboundEvent{Event: EventConnectError, Data: data})
			return retry.RetryableError(fmt.Errorf("dialing %s: %w", ch.cfg.URL, err))
		}
		conn = c
		return nil
	})
	return conn, err
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- InboundEvent) {
	stop := make(chan struct{})
	defer close(stop)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				ch.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				ch.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Printf("error: %v", err)
			}
			return
		}

		var event InboundEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("Could not process message: %v", err)
			continue
		}
		push(ctx, inbound, event)
	}
}

func push(ctx context.Context, inbound chan<- InboundEvent, event InboundEvent) {
	select {
	case inbound <- event:
	case <-ctx.Done():
	}
}
