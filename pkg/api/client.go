// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is a middleman between a UI ws connection and the Hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// ID of the logged-in user
	id UserID
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, id UserID) *Client {
	return &Client{
		Hub:  hub,
		conn: conn,
		send: send,
		id:   id,
	}
}

type confirmResponse struct {
	Id        string `json:"id"`
	Confirmed bool   `json:"confirmed"`
}

// ReadPump pumps messages from the ws connection to the Hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		err := c.conn.Close()
		if err != nil {
			log.Printf("Could not close network connection: %v", err)
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	err := c.conn.SetReadDeadline(time.Now().Add(pongWait))
	if err != nil {
		log.Printf("Unable to set read deadline: %v", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		err := c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err != nil {
			log.Printf("Unable to set read deadline: %v", err)
			return err
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var event InboundEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("Could not process message: %v", err)
			continue
		}

		switch event.Event {
		case EventConfirmResponse:
			var response confirmResponse
			if err := json.Unmarshal(event.Data, &response); err != nil {
				log.Printf("Could not process confirm response: %v", err)
				continue
			}
			c.Hub.resolve(c.id, response.Id, response.Confirmed)
		default:
			log.Printf("Ignoring UI event %q", event.Event)
		}
	}
}

// WritePump pumps messages from the Hub to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame, the UI parses each frame as a single JSON value.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
