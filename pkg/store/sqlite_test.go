package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/wedding-chat/pkg/model"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := NewSQLite(":memory:", ids)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustAppend(t *testing.T, s Store, from, to, content string) model.Message {
	t.Helper()
	m, err := s.Append(context.Background(), from, to, content, "")
	require.NoError(t, err)
	return m
}

func TestAppendThenHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	before, err := s.History(ctx, "client", "vendor", HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, before)

	m := mustAppend(t, s, "client", "vendor", "Can we reschedule?")
	assert.NotZero(t, m.ID)
	assert.False(t, m.Read)
	assert.Equal(t, model.DefaultMessageType, m.MessageType)
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.History(ctx, "client", "vendor", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m, got[0])

	// Argument order does not matter.
	reversed, err := s.History(ctx, "vendor", "client", HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, got, reversed)
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		name              string
		from, to, content string
	}{
		{"self", "a", "a", "x"},
		{"empty content", "a", "b", ""},
		{"blank content", "a", "b", "  \n\t"},
		{"missing sender", "", "b", "x"},
		{"missing recipient", "a", "", "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Append(ctx, tc.from, tc.to, tc.content, "")
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected ValidationError, got %v", err)
		})
	}

	all, err := s.History(ctx, "a", "b", HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAppendKeepsMessageType(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Append(context.Background(), "a", "b", "contract.pdf", "file")
	require.NoError(t, err)
	assert.Equal(t, "file", m.MessageType)
}

func TestHistoryOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var sent []model.Message
	for i, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		from, to := "a", "b"
		if i%2 == 1 {
			from, to = "b", "a"
		}
		sent = append(sent, mustAppend(t, s, from, to, c))
	}
	mustAppend(t, s, "a", "c", "other conversation")

	all, err := s.History(ctx, "a", "b", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := range sent {
		assert.Equal(t, sent[i].Content, all[i].Content)
	}

	page, err := s.History(ctx, "a", "b", HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m4", page[0].Content)
	assert.Equal(t, "m5", page[1].Content)

	page, err = s.History(ctx, "a", "b", HistoryQuery{Limit: 2, Before: page[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m2", page[0].Content)
	assert.Equal(t, "m3", page[1].Content)

	page, err = s.History(ctx, "a", "b", HistoryQuery{Limit: 2, Before: page[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m1", page[0].Content)
}

func TestHistoryLimitClamp(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, HistoryQuery{}.PageSize())
	assert.Equal(t, DefaultHistoryLimit, HistoryQuery{Limit: -3}.PageSize())
	assert.Equal(t, MaxHistoryLimit, HistoryQuery{Limit: 10_000}.PageSize())
	assert.Equal(t, 7, HistoryQuery{Limit: 7}.PageSize())
}

func TestMarkReadIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAppend(t, s, "p", "v", "one")
	mustAppend(t, s, "p", "v", "two")
	mustAppend(t, s, "v", "p", "mine")

	n, err := s.MarkRead(ctx, "v", "p")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.MarkRead(ctx, "v", "p")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The viewer's own message to p is untouched.
	hist, err := s.History(ctx, "v", "p", HistoryQuery{})
	require.NoError(t, err)
	for _, m := range hist {
		assert.Equal(t, m.ToUserID == "v", m.Read, "message %q", m.Content)
	}
}

func TestMarkReadConcurrentNoDoubleCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		mustAppend(t, s, "p", "v", "hello")
	}

	var wg sync.WaitGroup
	results := make(chan int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.MarkRead(ctx, "v", "p")
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	assert.Equal(t, 10, total)
}

func TestUnreadCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAppend(t, s, "p1", "v", "a")
	mustAppend(t, s, "p1", "v", "b")
	mustAppend(t, s, "p2", "v", "c")
	mustAppend(t, s, "v", "p3", "d")

	counts, err := s.UnreadCounts(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, counts)

	_, err = s.MarkRead(ctx, "v", "p1")
	require.NoError(t, err)

	counts, err = s.UnreadCounts(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p2": 1}, counts)
	assert.Zero(t, counts["p1"])

	counts, err = s.UnreadCounts(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"v": 1}, counts)
}

func TestLastMessagesAndSummaries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAppend(t, s, "p1", "v", "old")
	last1 := mustAppend(t, s, "v", "p1", "newest with p1")
	last2 := mustAppend(t, s, "p2", "v", "only with p2")
	mustAppend(t, s, "p1", "p2", "not involving v")

	last, err := s.LastMessages(ctx, "v")
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, last1, last["p1"])
	assert.Equal(t, last2, last["p2"])

	sums, err := s.Summaries(ctx, "v")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, model.Summary{LastMessage: last1, UnreadCount: 1}, sums["p1"])
	assert.Equal(t, model.Summary{LastMessage: last2, UnreadCount: 1}, sums["p2"])
}

func TestReadNeverReverts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAppend(t, s, "p", "v", "first")
	_, err := s.MarkRead(ctx, "v", "p")
	require.NoError(t, err)
	mustAppend(t, s, "p", "v", "second")

	hist, err := s.History(ctx, "v", "p", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Read)
	assert.False(t, hist[1].Read)
}

func TestStorageUnavailableAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Append(context.Background(), "a", "b", "hi", "")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.False(t, IsValidation(err))
}
