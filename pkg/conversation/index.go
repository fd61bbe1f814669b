// Package conversation derives a user's contact list from the message store.
package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/mahaj/wedding-chat/pkg/directory"
	"github.com/mahaj/wedding-chat/pkg/model"
)

// SummarySource is the part of the message store the index reads.
type SummarySource interface {
	Summaries(ctx context.Context, viewerID string) (map[string]model.Summary, error)
}

// Index builds contact lists. Nothing is cached: every call reflects the
// latest committed store state.
type Index struct {
	source    SummarySource
	directory directory.Directory
}

func NewIndex(source SummarySource, dir directory.Directory) *Index {
	if dir == nil {
		dir = directory.None{}
	}
	return &Index{source: source, directory: dir}
}

// ListConversations returns the viewer's conversations, most urgent first:
// unread count descending, then last message time descending, then last
// message id descending, then party id. Eligible contacts without any
// messages follow in directory order.
func (x *Index) ListConversations(ctx context.Context, viewerID string) ([]model.ConversationEntry, error) {
	summaries, err := x.source.Summaries(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.ConversationEntry, 0, len(summaries))
	for party, sum := range summaries {
		last := sum.LastMessage
		entries = append(entries, model.ConversationEntry{
			PartyID:     party,
			LastMessage: &last,
			UnreadCount: sum.UnreadCount,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return rankBefore(entries[i], entries[j]) })

	contacts, err := x.directory.EligibleContacts(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list eligible contacts: %w", err)
	}
	seen := make(map[string]struct{}, len(entries)+len(contacts))
	for party := range summaries {
		seen[party] = struct{}{}
	}
	seen[viewerID] = struct{}{}
	for _, party := range contacts {
		if _, ok := seen[party]; ok || party == "" {
			continue
		}
		seen[party] = struct{}{}
		entries = append(entries, model.ConversationEntry{PartyID: party})
	}
	return entries, nil
}

func rankBefore(a, b model.ConversationEntry) bool {
	if a.UnreadCount != b.UnreadCount {
		return a.UnreadCount > b.UnreadCount
	}
	am, bm := a.LastMessage, b.LastMessage
	if !am.CreatedAt.Equal(bm.CreatedAt) {
		return am.CreatedAt.After(bm.CreatedAt)
	}
	if am.ID != bm.ID {
		return am.ID > bm.ID
	}
	return a.PartyID < b.PartyID
}
