package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/wedding-chat/pkg/auth"
	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/conversation"
	"github.com/mahaj/wedding-chat/pkg/delivery"
	"github.com/mahaj/wedding-chat/pkg/directory"
	"github.com/mahaj/wedding-chat/pkg/hub"
	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
	"github.com/mahaj/wedding-chat/pkg/store"
)

type testServer struct {
	e     *echo.Echo
	hub   *hub.Hub
	store *store.SQLite
	auth  *auth.Authenticator
}

func testConfig() *config.Config {
	return &config.Config{
		NodeID:         1,
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		DevLogin:       true,
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     16,
		Directory:      map[string][]string{"bride": {"florist", "caterer"}},
	}
}

func newTestServer(t *testing.T, p ClusterPresence) *testServer {
	t.Helper()
	cfg := testConfig()
	ids, err := snowflake.NewNode(cfg.NodeID)
	require.NoError(t, err)
	s, err := store.NewSQLite(":memory:", ids)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := hub.New()
	a := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	handler := NewHandler(cfg, a, h, delivery.New(s, h), conversation.NewIndex(s, directory.Static(cfg.Directory)), p)
	return &testServer{e: newServer(handler), hub: h, store: s, auth: a}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.auth.GenerateToken(userID)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+ts.token(t, userID))
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/login", "", `{"user_id":"bride"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	decode(t, rec, &resp)
	claims, err := ts.auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "bride", claims.UserID)

	rec = ts.do(t, http.MethodPost, "/login", "", `{"user_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequiresAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/conversations", "/messages/unread/count", "/messages/florist"} {
		rec := ts.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"florist","content":"peonies?"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg model.Message
	decode(t, rec, &msg)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "bride", msg.FromUserID)
	assert.Equal(t, "florist", msg.ToUserID)
	assert.Equal(t, model.DefaultMessageType, msg.MessageType)
	assert.False(t, msg.Read)

	rec = ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"florist","content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"bride","content":"note to self"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	content := strings.Repeat("x", 2*int(testConfig().MaxMessageSize))
	rec := ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"florist","content":"`+content+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	content = strings.Repeat("x", int(testConfig().MaxMessageSize))
	rec = ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"florist","content":"`+content+`"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSendMessageStorageUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.Close())

	rec := ts.do(t, http.MethodPost, "/messages", "bride", `{"to_user_id":"florist","content":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "storage unavailable", resp.Error)
}

func TestHistoryPagination(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	var sent []model.Message
	for i := 0; i < 5; i++ {
		m, err := ts.store.Append(ctx, "bride", "florist", "m"+strconv.Itoa(i), "")
		require.NoError(t, err)
		sent = append(sent, m)
	}

	rec := ts.do(t, http.MethodGet, "/messages/florist?limit=2", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page historyResponse
	decode(t, rec, &page)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, sent[3].ID, page.Messages[0].ID)
	assert.Equal(t, sent[4].ID, page.Messages[1].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, strconv.FormatInt(sent[3].ID, 10), page.NextBefore)

	rec = ts.do(t, http.MethodGet, "/messages/bride?limit=10&before="+page.NextBefore, "florist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rest historyResponse
	decode(t, rec, &rest)
	require.Len(t, rest.Messages, 3)
	assert.Equal(t, sent[0].ID, rest.Messages[0].ID)
	assert.False(t, rest.HasMore)
	assert.Empty(t, rest.NextBefore)

	rec = ts.do(t, http.MethodGet, "/messages/dj", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty historyResponse
	decode(t, rec, &empty)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)

	rec = ts.do(t, http.MethodGet, "/messages/florist?limit=abc", "bride", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/messages/florist?before=yesterday", "bride", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelfConversationRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.store.Append(context.Background(), "bride", "florist", "hello", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/messages/bride", "bride", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/messages/bride/read", "bride", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseHistoryQueryTimestamp(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	q, err := parseHistoryQuery("", at.Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, snowflake.FirstID(at), q.Before)
	assert.Equal(t, at, snowflake.Time(q.Before))

	q, err = parseHistoryQuery("25", "12345")
	require.NoError(t, err)
	assert.Equal(t, 25, q.Limit)
	assert.Equal(t, int64(12345), q.Before)
}

func TestMarkReadAndUnreadCounts(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ts.store.Append(ctx, "florist", "bride", "quote", "")
		require.NoError(t, err)
	}
	_, err := ts.store.Append(ctx, "caterer", "bride", "menu", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/messages/unread/count", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int
	decode(t, rec, &counts)
	assert.Equal(t, map[string]int{"florist": 3, "caterer": 1}, counts)

	rec = ts.do(t, http.MethodPost, "/messages/florist/read", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var updated map[string]int
	decode(t, rec, &updated)
	assert.Equal(t, 3, updated["updated_count"])

	rec = ts.do(t, http.MethodPost, "/messages/florist/read", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &updated)
	assert.Equal(t, 0, updated["updated_count"])
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.store.Append(context.Background(), "caterer", "bride", "menu", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/conversations", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.ConversationEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "caterer", entries[0].PartyID)
	assert.Equal(t, 1, entries[0].UnreadCount)
	require.NotNil(t, entries[0].LastMessage)
	assert.Equal(t, "florist", entries[1].PartyID)
	assert.Nil(t, entries[1].LastMessage)

	rec = ts.do(t, http.MethodGet, "/conversations", "dj", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

type stubPresence struct {
	online bool
	err    error
}

func (s stubPresence) Online(context.Context, string) (bool, error) { return s.online, s.err }

func TestPresence(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/presence/florist", "bride", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp presenceResponse
	decode(t, rec, &resp)
	assert.Equal(t, "florist", resp.UserID)
	assert.False(t, resp.Online)
	assert.Zero(t, resp.Sessions)

	ts = newTestServer(t, stubPresence{online: true})
	rec = ts.do(t, http.MethodGet, "/presence/florist", "bride", "")
	decode(t, rec, &resp)
	assert.True(t, resp.Online, "online on another node")

	ts = newTestServer(t, stubPresence{err: errors.New("redis down")})
	rec = ts.do(t, http.MethodGet, "/presence/florist", "bride", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&store.ValidationError{Field: "content", Reason: "x"}))
	assert.Equal(t, http.StatusUnauthorized, statusFor(auth.ErrUnauthenticated))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(store.ErrStorageUnavailable))
	assert.Equal(t, http.StatusNotFound, statusFor(echo.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
