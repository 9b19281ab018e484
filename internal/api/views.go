package api

import "github.com/matheus3301/mirror/internal/store"

// ChatView is the JSON rendition of a chat.
type ChatView struct {
	ID              string       `json:"id"`
	Kind            string       `json:"kind"`
	Title           string       `json:"title"`
	Network         string       `json:"network,omitempty"`
	Handle          string       `json:"handle,omitempty"`
	Phone           string       `json:"phone,omitempty"`
	ContactID       string       `json:"contact_id,omitempty"`
	ContactOverride bool         `json:"contact_override"`
	LastActivityAt  int64        `json:"last_activity_at"`
	UnreadCount     int          `json:"unread_count"`
	Archived        bool         `json:"archived"`
	Muted           bool         `json:"muted"`
	Pinned          bool         `json:"pinned"`
	LastMessage     string       `json:"last_message"`
	LastMessageFrom string       `json:"last_message_from"`
	NeedsReply      bool         `json:"needs_reply"`
	Window          store.Window `json:"window"`
}

func toChatView(c *store.Chat) ChatView {
	return ChatView{
		ID:              c.ID,
		Kind:            c.Kind,
		Title:           c.Title,
		Network:         c.Network,
		Handle:          c.Handle,
		Phone:           c.Phone,
		ContactID:       c.ContactID,
		ContactOverride: c.ContactOverride,
		LastActivityAt:  c.LastActivityAt,
		UnreadCount:     c.UnreadCount,
		Archived:        c.Archived,
		Muted:           c.Muted,
		Pinned:          c.Pinned,
		LastMessage:     c.LastMessage,
		LastMessageFrom: c.LastMessageFrom,
		NeedsReply:      c.NeedsReply,
		Window:          c.Window,
	}
}

// MessageView is the JSON rendition of a message.
type MessageView struct {
	ID          string             `json:"id"`
	SenderID    string             `json:"sender_id"`
	SenderName  string             `json:"sender_name,omitempty"`
	Text        string             `json:"text"`
	Timestamp   int64              `json:"timestamp"`
	SortKey     string             `json:"sort_key,omitempty"`
	FromMe      bool               `json:"from_me"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	Reactions   []store.Reaction   `json:"reactions,omitempty"`
	SendStatus  string             `json:"send_status,omitempty"`
	SendError   string             `json:"send_error,omitempty"`
}

func toMessageView(m *store.Message) MessageView {
	return MessageView{
		ID:          m.MsgID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Text:        m.Text,
		Timestamp:   m.Timestamp,
		SortKey:     m.SortKey,
		FromMe:      m.FromMe,
		Attachments: m.Attachments,
		Reactions:   m.Reactions,
		SendStatus:  m.SendStatus,
		SendError:   m.SendError,
	}
}

// ContactView is the JSON rendition of a contact.
type ContactView struct {
	ID                string   `json:"id"`
	ExternalID        string   `json:"external_id,omitempty"`
	Handle            string   `json:"handle,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	FirstName         string   `json:"first_name,omitempty"`
	LastName          string   `json:"last_name,omitempty"`
	Email             string   `json:"email,omitempty"`
	Company           string   `json:"company,omitempty"`
	Phones            []string `json:"phones,omitempty"`
	SocialHandles     []string `json:"social_handles,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	LeadStatus        string   `json:"lead_status,omitempty"`
	DoNotSync         bool     `json:"do_not_sync"`
	MergedFrom        []string `json:"merged_from,omitempty"`
	ExternalUpdatedAt int64    `json:"external_updated_at,omitempty"`
	LastSyncedAt      int64    `json:"last_synced_at,omitempty"`
	LastModifiedAt    int64    `json:"last_modified_at,omitempty"`
}

func toContactView(c *store.Contact) ContactView {
	return ContactView{
		ID:                c.ID,
		ExternalID:        c.ExternalID,
		Handle:            c.Handle,
		Phone:             c.Phone,
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		Email:             c.Email,
		Company:           c.Company,
		Phones:            c.Phones,
		SocialHandles:     c.SocialHandles,
		Notes:             c.Notes,
		Tags:              c.Tags,
		LeadStatus:        c.LeadStatus,
		DoNotSync:         c.DoNotSync,
		MergedFrom:        c.MergedFrom,
		ExternalUpdatedAt: c.ExternalUpdatedAt,
		LastSyncedAt:      c.LastSyncedAt,
		LastModifiedAt:    c.LastModifiedAt,
	}
}

// DuplicateView is one duplicate candidate for a contact.
type DuplicateView struct {
	Contact    ContactView `json:"contact"`
	Confidence string      `json:"confidence"`
	Reason     string      `json:"reason"`
}
