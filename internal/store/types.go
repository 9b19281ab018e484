package store

import "strings"

// Chat kinds.
const (
	KindSingle = "single"
	KindGroup  = "group"
)

// Send statuses for locally composed messages.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Window describes the contiguous range of messages held locally for a chat.
type Window struct {
	NewestSortKey      string `json:"newest_sort_key"`
	OldestSortKey      string `json:"oldest_sort_key"`
	MessageCount       int    `json:"message_count"`
	HasCompleteHistory bool   `json:"has_complete_history"`
}

// Chat represents a mirrored remote conversation.
type Chat struct {
	ID              string
	Kind            string
	Title           string
	Network         string
	AccountID       string
	Handle          string
	Phone           string
	NormalizedPhone string
	Email           string

	// ContactID is empty when the chat is not linked to a contact.
	ContactID        string
	ContactMatchedAt int64
	ContactOverride  bool

	LastActivityAt int64
	UnreadCount    int
	Archived       bool
	Muted          bool
	Pinned         bool
	Blocked        bool

	Window               Window
	LastMessagesSyncedAt int64
	LastMessage          string
	LastMessageFrom      string
	NeedsReply           bool
}

// Attachment is a file or media item carried by a message.
type Attachment struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction is an emoji reaction on a message.
type Reaction struct {
	SenderID string `json:"sender_id"`
	Emoji    string `json:"emoji"`
}

// Message represents a mirrored message, unique per (ChatID, MsgID).
type Message struct {
	ID          int64
	ChatID      string
	MsgID       string
	SenderID    string
	SenderName  string
	Text        string
	Timestamp   int64
	SortKey     string // empty for local messages not yet confirmed upstream
	FromMe      bool
	Attachments []Attachment
	Reactions   []Reaction
	SendStatus  string // sending, sent, failed; empty for messages that originated upstream
	SendError   string
	PendingID   string
}

// Contact represents a person record.
type Contact struct {
	ID         string
	ExternalID string
	Handle     string
	Phone      string
	FirstName  string
	LastName   string
	Email      string
	Company    string

	Phones           []string
	SocialHandles    []string
	NormalizedPhones []string

	Notes      string
	Tags       []string
	LeadStatus string
	DoNotSync  bool
	MergedFrom []string

	ExternalUpdatedAt int64
	LastSyncedAt      int64
	LastModifiedAt    int64
	CreatedAt         int64
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// LastMessage holds the fields derived from the chronologically last message of a batch.
type LastMessage struct {
	Text       string
	From       string
	NeedsReply bool
	SortKey    string
}

// SyncState is the singleton chat-list sync record.
type SyncState struct {
	NewestCursor string
	OldestCursor string
	LastSyncedAt int64
	LockID       string
	LockAt       int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	PendingID    string
}
