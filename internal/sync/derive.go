package sync

import (
	"cmp"
	"errors"
	"slices"

	"github.com/matheus3301/mirror/internal/source"
	"github.com/matheus3301/mirror/internal/store"
)

// ErrUnsortedBatch is returned when a batch handed to Derive is not in ascending
// (timestamp, sort key) order. It is a caller bug, never a data condition.
var ErrUnsortedBatch = errors.New("message batch is not sorted ascending")

func compareMessages(a, b *store.Message) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.SortKey, b.SortKey)
}

// SortAscending orders a fetched batch oldest first, ties broken by sort key.
func SortAscending(msgs []store.Message) {
	slices.SortStableFunc(msgs, func(a, b store.Message) int { return compareMessages(&a, &b) })
}

// Derive returns the chat fields derived from the chronologically last message of
// an ascending batch, or nil for an empty batch.
func Derive(msgs []store.Message) (*store.LastMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	for i := 1; i < len(msgs); i++ {
		if compareMessages(&msgs[i-1], &msgs[i]) > 0 {
			return nil, ErrUnsortedBatch
		}
	}
	last := &msgs[len(msgs)-1]
	from := last.SenderName
	if from == "" {
		from = last.SenderID
	}
	return &store.LastMessage{
		Text:       last.Text,
		From:       from,
		NeedsReply: !last.FromMe,
		SortKey:    last.SortKey,
	}, nil
}

func toStoreMessages(chatID string, items []source.RemoteMessage) []store.Message {
	out := make([]store.Message, 0, len(items))
	for _, m := range items {
		msg := store.Message{
			ChatID:     chatID,
			MsgID:      m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Text:       m.Text,
			Timestamp:  m.Timestamp.UnixMilli(),
			SortKey:    m.SortKey,
			FromMe:     m.FromMe,
			PendingID:  m.PendingID,
		}
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, store.Attachment{
				ID: a.ID, MimeType: a.MimeType, FileName: a.FileName, URL: a.URL, Size: a.Size,
			})
		}
		for _, r := range m.Reactions {
			msg.Reactions = append(msg.Reactions, store.Reaction{SenderID: r.SenderID, Emoji: r.Emoji})
		}
		out = append(out, msg)
	}
	return out
}
