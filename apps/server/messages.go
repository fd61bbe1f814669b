package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
	"github.com/mahaj/wedding-chat/pkg/store"
)

type sendRequest struct {
	ToUserID    string `json:"to_user_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendMessage persists and delivers a message.
// POST /messages
func (h *Handler) SendMessage(c echo.Context) error {
	from, err := viewer(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	msg, err := h.delivery.Send(c.Request().Context(), from, req.ToUserID, req.Content, req.MessageType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

type historyResponse struct {
	Messages   []model.Message `json:"messages"`
	HasMore    bool            `json:"has_more"`
	NextBefore string          `json:"next_before,omitempty"`
}

// History returns one page of the conversation with otherPartyID, oldest
// first. Pass next_before back as before to fetch the previous page.
// GET /messages/:otherPartyID?limit=&before=
func (h *Handler) History(c echo.Context) error {
	userID, err := viewer(c)
	if err != nil {
		return err
	}

	q, err := parseHistoryQuery(c.QueryParam("limit"), c.QueryParam("before"))
	if err != nil {
		return err
	}

	messages, err := h.delivery.History(c.Request().Context(), userID, c.Param("otherPartyID"), q)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []model.Message{}
	}

	resp := historyResponse{Messages: messages}
	if len(messages) == q.PageSize() {
		resp.HasMore = true
		resp.NextBefore = strconv.FormatInt(messages[0].ID, 10)
	}
	return c.JSON(http.StatusOK, resp)
}

// parseHistoryQuery accepts before as a message id or an RFC3339 timestamp.
func parseHistoryQuery(limit, before string) (store.HistoryQuery, error) {
	var q store.HistoryQuery
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return q, &store.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		q.Limit = n
	}
	if before == "" {
		return q, nil
	}
	if id, err := strconv.ParseInt(before, 10, 64); err == nil && id > 0 {
		q.Before = id
		return q, nil
	}
	t, err := time.Parse(time.RFC3339Nano, before)
	if err != nil {
		return q, &store.ValidationError{Field: "before", Reason: "must be a message id or an RFC3339 timestamp"}
	}
	q.Before = snowflake.FirstID(t)
	if q.Before <= 0 {
		return q, &store.ValidationError{Field: "before", Reason: "is before the first message"}
	}
	return q, nil
}

// MarkRead marks everything otherPartyID sent to the caller as read.
// POST /messages/:otherPartyID/read
func (h *Handler) MarkRead(c echo.Context) error {
	userID, err := viewer(c)
	if err != nil {
		return err
	}
	n, err := h.delivery.MarkRead(c.Request().Context(), userID, c.Param("otherPartyID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated_count": n})
}

// UnreadCounts returns unread message counts keyed by sender.
// GET /messages/unread/count
func (h *Handler) UnreadCounts(c echo.Context) error {
	userID, err := viewer(c)
	if err != nil {
		return err
	}
	counts, err := h.delivery.UnreadCounts(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

// Conversations returns the caller's ranked contact list.
// GET /conversations
func (h *Handler) Conversations(c echo.Context) error {
	userID, err := viewer(c)
	if err != nil {
		return err
	}
	entries, err := h.index.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []model.ConversationEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
