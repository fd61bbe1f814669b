package model

import "time"

// DefaultMessageType is used when a sender does not tag a message.
const DefaultMessageType = "text"

// Push event names sent over a live connection.
const (
	EventReceiveMessage = "receive_message"
	EventMessageSentAck = "message_sent_ack"
	EventMessagesRead   = "messages_read"
	EventTyping         = "typing"
	EventError          = "error"
)

// Frame types a client may send over its live connection.
const (
	FrameSendMessage = "send_message"
	FrameMarkRead    = "mark_read"
	FrameTyping      = "typing"
)

// Message is a single directed chat message between two users. The id is
// encoded as a JSON string because snowflake ids exceed 2^53.
type Message struct {
	ID          int64     `json:"id,string"`
	FromUserID  string    `json:"from_user_id"`
	ToUserID    string    `json:"to_user_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// OtherParty returns the participant of m that is not userID.
func (m Message) OtherParty(userID string) string {
	if m.FromUserID == userID {
		return m.ToUserID
	}
	return m.FromUserID
}

// Before reports whether m sorts before o within a conversation.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// ReadReceipt is the payload of a messages_read push.
type ReadReceipt struct {
	By    string `json:"by"`
	Count int    `json:"count"`
}

// TypingNotice is the payload of a typing push.
type TypingNotice struct {
	From string `json:"from"`
}

// Event is the envelope written to a live connection.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Frame is an inbound client command read from a live connection.
type Frame struct {
	Type         string `json:"type"`
	ToUserID     string `json:"to_user_id,omitempty"`
	Content      string `json:"content,omitempty"`
	MessageType  string `json:"message_type,omitempty"`
	OtherPartyID string `json:"other_party_id,omitempty"`
}
