package bus

import "time"

// Event kinds published by the engine. Subscribers filter by prefix ("chat.", "contact.", ...).
const (
	ChatUpserted              = "chat.upserted"
	ChatContactChanged        = "chat.contact_changed"
	MessagesUpserted          = "message.upserted"
	MessageSendAck            = "message.send_ack"
	MessageSendFailed         = "message.send_failed"
	ContactUpserted           = "contact.upserted"
	ContactIdentifiersChanged = "contact.identifiers_changed"
	SyncListCompleted         = "sync.list_completed"
	SyncContactsCompleted     = "sync.contacts_completed"
	RematchCompleted          = "rematch.completed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// IdentifierChange is the payload of ContactIdentifiersChanged: the handle and phone
// a contact had before and after a write. Empty old values mean the contact is new.
type IdentifierChange struct {
	ContactID string
	OldHandle string
	NewHandle string
	OldPhone  string
	NewPhone  string
	// ExtraPhones lists further list entries (phones and social handles) that changed.
	ExtraPhones []string
}
