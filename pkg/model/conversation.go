package model

// Summary is the derived state of one conversation as seen by a viewer.
type Summary struct {
	LastMessage Message
	UnreadCount int
}

// ConversationEntry is one row of a viewer's contact list.
type ConversationEntry struct {
	PartyID     string   `json:"party_id"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
