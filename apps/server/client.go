package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/wedding-chat/pkg/hub"
	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/store"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id     string
	userID string
	h      *Handler

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames. Closed exactly once, under mu.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Handler, conn *websocket.Conn, userID string) *Client {
	buffer := h.cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		h:      h,
		conn:   conn,
		send:   make(chan []byte, buffer),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues frame without blocking. A client that falls behind is shut
// down, the same as one that has gone away.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return hub.ErrClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closed = true
		close(c.send)
		return hub.ErrBufferFull
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the websocket connection to the coordinator.
func (c *Client) readPump() {
	defer func() {
		c.h.hub.Unregister(c)
		c.shutdown()
		c.conn.Close()
	}()
	cfg := c.h.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var f model.Frame
	if err := json.Unmarshal(message, &f); err != nil {
		c.reply("", errors.New("frame is not valid JSON"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	var err error
	switch f.Type {
	case model.FrameSendMessage:
		// The sender learns the stored message through message_sent_ack.
		_, err = c.h.delivery.Send(ctx, c.userID, f.ToUserID, f.Content, f.MessageType)
	case model.FrameMarkRead:
		_, err = c.h.delivery.MarkRead(ctx, c.userID, f.OtherPartyID)
	case model.FrameTyping:
		c.h.delivery.Typing(c.userID, f.ToUserID)
	default:
		err = errors.New("unknown frame type")
	}
	if err != nil {
		c.reply(f.Type, err)
	}
}

// frameTimeout bounds store work done on behalf of one inbound frame.
const frameTimeout = 10 * time.Second

type frameError struct {
	Frame string `json:"frame,omitempty"`
	Error string `json:"error"`
}

// reply pushes an error event to this connection only.
func (c *Client) reply(frame string, err error) {
	msg := err.Error()
	if errors.Is(err, store.ErrStorageUnavailable) {
		log.Printf("Frame %s from %s failed: %v", frame, c.userID, err)
		msg = "storage unavailable"
	}
	data, mErr := json.Marshal(model.Event{Event: model.EventError, Payload: frameError{Frame: frame, Error: msg}})
	if mErr != nil {
		return
	}
	if err := c.Send(data); err != nil {
		c.h.hub.Unregister(c)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
func (c *Client) writePump() {
	cfg := c.h.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// The channel was closed.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
