// Package source defines the external collaborators the sync engine consumes:
// a chat/message source and a contact (CRM) source.
package source

import (
	"context"
	"fmt"
	"time"
)

// Direction selects which way a paginated listing moves from its cursor.
type Direction string

const (
	// Before lists items older than the cursor; with no cursor, the most recent items.
	Before Direction = "before"
	// After lists items newer than the cursor.
	After Direction = "after"
)

// TransportError is returned for every network or API failure of a source.
type TransportError struct {
	Op      string
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// ChatSummary is one remote conversation as listed by the chat source.
type ChatSummary struct {
	ID           string
	Kind         string // single or group
	Title        string
	Network      string
	AccountID    string
	Handle       string
	Phone        string
	Email        string
	LastActivity time.Time
	UnreadCount  int
	Archived     bool
	Muted        bool
	Pinned       bool
	Blocked      bool
}

// ChatPage is one page of chat summaries plus the cursor pair bounding it.
type ChatPage struct {
	Items        []ChatSummary
	NewestCursor string
	OldestCursor string
}

// Attachment is a media item on a remote message.
type Attachment struct {
	ID       string
	MimeType string
	FileName string
	URL      string
	Size     int64
}

// Reaction is an emoji reaction on a remote message.
type Reaction struct {
	SenderID string
	Emoji    string
}

// RemoteMessage is one message as returned by the chat source.
type RemoteMessage struct {
	ID          string
	ChatID      string
	SenderID    string
	SenderName  string
	Text        string
	Timestamp   time.Time
	SortKey     string
	FromMe      bool
	Attachments []Attachment
	Reactions   []Reaction
	// PendingID correlates a confirmed message with the send that produced it.
	PendingID string
}

// MessageQuery selects a page of messages for one chat.
type MessageQuery struct {
	ChatID    string
	Cursor    string // a message sort key; empty starts from the newest message
	Direction Direction
	Limit     int
}

// MessagePage is one page of messages.
type MessagePage struct {
	Items   []RemoteMessage
	HasMore bool
}

// ChatSource is the remote chat aggregation platform.
type ChatSource interface {
	ListChats(ctx context.Context, cursor string, dir Direction) (*ChatPage, error)
	ListMessages(ctx context.Context, q MessageQuery) (*MessagePage, error)
	SendMessage(ctx context.Context, chatID, text string) (pendingID string, err error)
}

// ContactRecord is one externally-fetched CRM contact.
type ContactRecord struct {
	ExternalID    string
	FirstName     string
	LastName      string
	Email         string
	Company       string
	Handle        string // Instagram-style handle
	Phone         string // WhatsApp-style primary phone
	Phones        []string
	SocialHandles []string
	// UpdatedAt is the CRM's own last-changed timestamp for the record.
	UpdatedAt time.Time
}

// ContactFields is the set of fields pushed back to the CRM after a local edit.
type ContactFields struct {
	FirstName string
	LastName  string
	Email     string
	Company   string
	Handle    string
	Phone     string
	Notes     string
}

// ContactSource is the external CRM.
type ContactSource interface {
	ListContacts(ctx context.Context, offset, limit int) ([]ContactRecord, error)
	UpdateContact(ctx context.Context, externalID string, fields ContactFields) error
}
