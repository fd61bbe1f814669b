// Package store persists chat messages and is the single source of truth for
// history, ordering and read state.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mahaj/wedding-chat/pkg/model"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// ErrStorageUnavailable wraps every failure of the underlying database.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ValidationError reports a malformed append request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// HistoryQuery pages through a conversation. Before is an exclusive message
// id cursor; zero means "from the newest message".
type HistoryQuery struct {
	Limit  int
	Before int64
}

// PageSize is Limit clamped to [1, MaxHistoryLimit], DefaultHistoryLimit when unset.
func (q HistoryQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// Store is the durable message log.
//
// History returns messages oldest first. A page holds the Limit most recent
// messages older than the cursor, so the next page is requested with
// Before set to the id of the first message of the current one.
type Store interface {
	Append(ctx context.Context, fromUserID, toUserID, content, messageType string) (model.Message, error)
	History(ctx context.Context, userA, userB string, q HistoryQuery) ([]model.Message, error)
	MarkRead(ctx context.Context, viewerID, otherPartyID string) (int, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
	LastMessages(ctx context.Context, viewerID string) (map[string]model.Message, error)
	// Summaries returns last message and unread count per partner drawn
	// from a single consistent read.
	Summaries(ctx context.Context, viewerID string) (map[string]model.Summary, error)
	Close() error
}

// validateAppend checks an append request and returns the message type to
// persist.
func validateAppend(fromUserID, toUserID, content, messageType string) (string, error) {
	if strings.TrimSpace(fromUserID) == "" {
		return "", &ValidationError{Field: "from_user_id", Reason: "is required"}
	}
	if strings.TrimSpace(toUserID) == "" {
		return "", &ValidationError{Field: "to_user_id", Reason: "is required"}
	}
	if fromUserID == toUserID {
		return "", &ValidationError{Field: "to_user_id", Reason: "cannot message yourself"}
	}
	if strings.TrimSpace(content) == "" {
		return "", &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if strings.TrimSpace(messageType) == "" {
		messageType = model.DefaultMessageType
	}
	return messageType, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
