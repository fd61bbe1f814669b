package store

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/mahaj/wedding-chat/pkg/db"
	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
)

const scanPageSize = 500

// Scylla implements Store on the messages_by_pair and user_conversations
// tables created by db.EnsureSchema.
type Scylla struct {
	session *db.Session
	ids     *snowflake.Node
}

func NewScylla(session *db.Session, ids *snowflake.Node) *Scylla {
	return &Scylla{session: session, ids: ids}
}

func (s *Scylla) Close() error {
	s.session.Close()
	return nil
}

// PairID is the partition key of the conversation between a and b. It does
// not depend on argument order and cannot collide for ids containing ':'.
func PairID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%s:%s", len(a), a, b)
}

func (s *Scylla) Append(ctx context.Context, fromUserID, toUserID, content, messageType string) (model.Message, error) {
	messageType, err := validateAppend(fromUserID, toUserID, content, messageType)
	if err != nil {
		return model.Message{}, err
	}

	id := s.ids.Generate()
	msg := model.Message{
		ID:          id,
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   snowflake.Time(id),
	}

	// Logged batch: the message row and both partner index rows land
	// together or not at all.
	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages_by_pair (pair_id, id, from_user_id, to_user_id, content, message_type, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, false, ?)`,
		PairID(fromUserID, toUserID), msg.ID, msg.FromUserID, msg.ToUserID, msg.Content, msg.MessageType, msg.CreatedAt)
	b.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`,
		fromUserID, toUserID, msg.CreatedAt)
	b.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`,
		toUserID, fromUserID, msg.CreatedAt)

	if err := s.session.ExecuteBatch(b); err != nil {
		return model.Message{}, unavailable("insert message", err)
	}
	return msg, nil
}

func (s *Scylla) History(ctx context.Context, userA, userB string, q HistoryQuery) ([]model.Message, error) {
	var query *gocql.Query
	if q.Before > 0 {
		query = s.session.Query(`SELECT id, from_user_id, to_user_id, content, message_type, read, created_at
			FROM messages_by_pair WHERE pair_id = ? AND id < ? LIMIT ?`,
			PairID(userA, userB), q.Before, q.PageSize())
	} else {
		query = s.session.Query(`SELECT id, from_user_id, to_user_id, content, message_type, read, created_at
			FROM messages_by_pair WHERE pair_id = ? LIMIT ?`,
			PairID(userA, userB), q.PageSize())
	}

	iter := query.WithContext(ctx).Iter()
	messages := make([]model.Message, 0)
	var m model.Message
	for iter.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &m.MessageType, &m.Read, &m.CreatedAt) {
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		return nil, unavailable("query history", err)
	}

	// Clustering order is id DESC; callers get oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead flips each unread row with a conditional update so that
// concurrent calls never count the same message twice.
func (s *Scylla) MarkRead(ctx context.Context, viewerID, otherPartyID string) (int, error) {
	pairID := PairID(viewerID, otherPartyID)

	iter := s.session.Query(`SELECT id, to_user_id, read FROM messages_by_pair WHERE pair_id = ?`, pairID).
		WithContext(ctx).PageSize(scanPageSize).Iter()
	var pending []int64
	var id int64
	var to string
	var read bool
	for iter.Scan(&id, &to, &read) {
		if to == viewerID && !read {
			pending = append(pending, id)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, unavailable("scan unread", err)
	}

	updated := 0
	for _, id := range pending {
		applied, err := s.session.Query(`UPDATE messages_by_pair SET read = true WHERE pair_id = ? AND id = ? IF read = false`, pairID, id).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return updated, unavailable("mark read", err)
		}
		if applied {
			updated++
		}
	}
	return updated, nil
}

func (s *Scylla) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	summaries, err := s.Summaries(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for party, sum := range summaries {
		if sum.UnreadCount > 0 {
			counts[party] = sum.UnreadCount
		}
	}
	return counts, nil
}

func (s *Scylla) LastMessages(ctx context.Context, viewerID string) (map[string]model.Message, error) {
	summaries, err := s.Summaries(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Message, len(summaries))
	for party, sum := range summaries {
		out[party] = sum.LastMessage
	}
	return out, nil
}

// Summaries walks each partner partition once; the last message and unread
// count of a partner come from that same scan.
func (s *Scylla) Summaries(ctx context.Context, viewerID string) (map[string]model.Summary, error) {
	iter := s.session.Query(`SELECT other_user_id FROM user_conversations WHERE user_id = ?`, viewerID).
		WithContext(ctx).Iter()
	var partners []string
	var other string
	for iter.Scan(&other) {
		partners = append(partners, other)
	}
	if err := iter.Close(); err != nil {
		return nil, unavailable("query partners", err)
	}

	out := make(map[string]model.Summary, len(partners))
	for _, party := range partners {
		sum, ok, err := s.summarize(ctx, viewerID, party)
		if err != nil {
			return nil, err
		}
		if ok {
			out[party] = sum
		}
	}
	return out, nil
}

func (s *Scylla) summarize(ctx context.Context, viewerID, party string) (model.Summary, bool, error) {
	iter := s.session.Query(`SELECT id, from_user_id, to_user_id, content, message_type, read, created_at
		FROM messages_by_pair WHERE pair_id = ?`, PairID(viewerID, party)).
		WithContext(ctx).PageSize(scanPageSize).Iter()

	var sum model.Summary
	found := false
	var m model.Message
	for iter.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &m.MessageType, &m.Read, &m.CreatedAt) {
		if !found {
			m.CreatedAt = m.CreatedAt.UTC()
			sum.LastMessage = m
			found = true
		}
		if m.ToUserID == viewerID && !m.Read {
			sum.UnreadCount++
		}
	}
	if err := iter.Close(); err != nil {
		return model.Summary{}, false, unavailable("summarize conversation", err)
	}
	return sum, found, nil
}
