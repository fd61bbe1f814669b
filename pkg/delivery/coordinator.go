// Package delivery runs the send and read protocols on top of the message
// store and the live connection table.
//
// A message is durable before any push is attempted. Pushes are best effort:
// an offline recipient picks the message up on its next history fetch, so
// misses are never retried or queued.
package delivery

import (
	"context"
	"log"
	"strings"

	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/store"
)

// Emitter pushes an event to every live connection of a user. It returns
// false when nothing received it.
type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) bool
}

// Coordinator combines a Store and an Emitter.
type Coordinator struct {
	store      store.Store
	emitter    Emitter
	senderEcho bool
}

type Option func(*Coordinator)

// WithSenderEcho controls whether the sender's own connections receive a
// message_sent_ack for every message they send. Enabled by default.
func WithSenderEcho(enabled bool) Option {
	return func(c *Coordinator) { c.senderEcho = enabled }
}

func New(s store.Store, e Emitter, opts ...Option) *Coordinator {
	c := &Coordinator{store: s, emitter: e, senderEcho: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send persists a message and then pushes it to the recipient and echoes it
// to the sender's other devices. The returned error only ever comes from the
// store.
func (c *Coordinator) Send(ctx context.Context, fromUserID, toUserID, content, messageType string) (model.Message, error) {
	msg, err := c.store.Append(ctx, fromUserID, toUserID, content, messageType)
	if err != nil {
		return model.Message{}, err
	}

	if !c.push(toUserID, model.EventReceiveMessage, msg) {
		log.Printf("Recipient %s not connected to this node, message %d left for history", toUserID, msg.ID)
	}
	if c.senderEcho {
		c.push(fromUserID, model.EventMessageSentAck, msg)
	}
	return msg, nil
}

// MarkRead marks everything otherPartyID sent to viewerID as read and tells
// otherPartyID about it when anything changed.
func (c *Coordinator) MarkRead(ctx context.Context, viewerID, otherPartyID string) (int, error) {
	if err := requireParty(viewerID, otherPartyID); err != nil {
		return 0, err
	}
	n, err := c.store.MarkRead(ctx, viewerID, otherPartyID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	c.push(otherPartyID, model.EventMessagesRead, model.ReadReceipt{By: viewerID, Count: n})
	return n, nil
}

// History is the pull side of delivery. Polling clients and push clients read
// the same store state.
func (c *Coordinator) History(ctx context.Context, viewerID, otherPartyID string, q store.HistoryQuery) ([]model.Message, error) {
	if err := requireParty(viewerID, otherPartyID); err != nil {
		return nil, err
	}
	return c.store.History(ctx, viewerID, otherPartyID, q)
}

func (c *Coordinator) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	return c.store.UnreadCounts(ctx, viewerID)
}

// Typing relays an ephemeral typing notice. Nothing is persisted.
func (c *Coordinator) Typing(fromUserID, toUserID string) bool {
	if toUserID == "" || toUserID == fromUserID {
		return false
	}
	return c.push(toUserID, model.EventTyping, model.TypingNotice{From: fromUserID})
}

// push never lets a transport failure escape into the caller's result.
func (c *Coordinator) push(userID, event string, payload interface{}) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Push of %s to %s panicked: %v", event, userID, r)
			delivered = false
		}
	}()
	return c.emitter.EmitToUser(userID, event, payload)
}

func requireParty(viewerID, otherPartyID string) error {
	if strings.TrimSpace(otherPartyID) == "" {
		return &store.ValidationError{Field: "other_party_id", Reason: "is required"}
	}
	if otherPartyID == viewerID {
		return &store.ValidationError{Field: "other_party_id", Reason: "cannot be yourself"}
	}
	return nil
}
