package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY,
		from_user_id TEXT NOT NULL,
		to_user_id   TEXT NOT NULL,
		content      TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		is_read      INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		CHECK (from_user_id <> to_user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (from_user_id, to_user_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (to_user_id, is_read, from_user_id)`,
}

const messageColumns = `id, from_user_id, to_user_id, content, message_type, is_read, created_at`

// SQLite implements Store on a single SQLite database.
type SQLite struct {
	db  *sql.DB
	ids *snowflake.Node
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// NewSQLite opens dsn and applies the schema. ":memory:" is accepted for
// tests.
func NewSQLite(dsn string, ids *snowflake.Node) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps an in-memory
	// database from splitting into several.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, m := range sqliteMigrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return &SQLite{db: db, ids: ids}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, fromUserID, toUserID, content, messageType string) (model.Message, error) {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		msg.ID, msg.FromUserID, msg.ToUserID, msg.Content, msg.MessageType, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return model.Message{}, unavailable("insert message", err)
	}
	return msg, nil
}

func (s *SQLite) History(ctx context.Context, userA, userB string, q HistoryQuery) ([]model.Message, error) {
	before := q.Before
	if before <= 0 {
		before = math.MaxInt64
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE ((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))
		  AND id < ?
		ORDER BY id DESC
		LIMIT ?`,
		userA, userB, userB, userA, before, q.PageSize(),
	)
	if err != nil {
		return nil, unavailable("query history", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("scan history row", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate history rows", err)
	}

	// Newest first from the index walk; callers get oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLite) MarkRead(ctx context.Context, viewerID, otherPartyID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		WHERE to_user_id = ? AND from_user_id = ? AND is_read = 0`,
		viewerID, otherPartyID,
	)
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("read rows affected", err)
	}
	return int(n), nil
}

func (s *SQLite) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	return unreadCounts(ctx, s.db, viewerID)
}

func (s *SQLite) LastMessages(ctx context.Context, viewerID string) (map[string]model.Message, error) {
	return lastMessages(ctx, s.db, viewerID)
}

func (s *SQLite) Summaries(ctx context.Context, viewerID string) (map[string]model.Summary, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, unavailable("begin summaries", err)
	}
	defer tx.Rollback()

	last, err := lastMessages(ctx, tx, viewerID)
	if err != nil {
		return nil, err
	}
	unread, err := unreadCounts(ctx, tx, viewerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit summaries", err)
	}

	out := make(map[string]model.Summary, len(last))
	for party, m := range last {
		out[party] = model.Summary{LastMessage: m, UnreadCount: unread[party]}
	}
	return out, nil
}

func unreadCounts(ctx context.Context, q querier, viewerID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT from_user_id, COUNT(*) FROM messages
		WHERE to_user_id = ? AND is_read = 0
		GROUP BY from_user_id`,
		viewerID,
	)
	if err != nil {
		return nil, unavailable("query unread counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var party string
		var n int
		if err := rows.Scan(&party, &n); err != nil {
			return nil, unavailable("scan unread count", err)
		}
		counts[party] = n
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate unread counts", err)
	}
	return counts, nil
}

func lastMessages(ctx context.Context, q querier, viewerID string) (map[string]model.Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT m.id, m.from_user_id, m.to_user_id, m.content, m.message_type, m.is_read, m.created_at
		FROM messages m
		JOIN (
			SELECT CASE WHEN from_user_id = ? THEN to_user_id ELSE from_user_id END AS party,
			       MAX(id) AS last_id
			FROM messages
			WHERE from_user_id = ? OR to_user_id = ?
			GROUP BY party
		) latest ON m.id = latest.last_id`,
		viewerID, viewerID, viewerID,
	)
	if err != nil {
		return nil, unavailable("query last messages", err)
	}
	defer rows.Close()

	out := make(map[string]model.Message)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("scan last message", err)
		}
		out[m.OtherParty(viewerID)] = m
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate last messages", err)
	}
	return out, nil
}

func scanMessage(rows *sql.Rows) (model.Message, error) {
	var m model.Message
	var isRead int
	var createdAt int64
	if err := rows.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &m.MessageType, &isRead, &createdAt); err != nil {
		return model.Message{}, err
	}
	m.Read = isRead != 0
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return m, nil
}
