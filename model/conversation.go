package model

import "time"

const (
	UserTypeRequestor = "requestor"
	UserTypeProvider  = "provider"
)

// Conversation links a requestor and a provider. Locked blocks new offers
// while a paid job is pending action; Restricted blocks further job-affecting
// actions after a job reaches a terminal event. CancellationChances counts
// down on job cancellations; policy at zero lives outside this core.
type Conversation struct {
	ID                  int64      `json:"-"`
	ConversationID      string     `json:"conversation_id"`
	RequestorUUID       string     `json:"requestor_uuid"`
	ProviderUUID        string     `json:"provider_uuid"`
	Locked              bool       `json:"locked"`
	Restricted          bool       `json:"restricted"`
	CancellationChances int        `json:"cancellation_chances"`
	LastMessageID       string     `json:"last_message_id,omitempty"`
	BlockedBy           string     `json:"blocked_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"-"`
}

// Counterparty returns the other participant of the conversation.
func (c *Conversation) Counterparty(userUUID string) string {
	if c.RequestorUUID == userUUID {
		return c.ProviderUUID
	}
	return c.RequestorUUID
}

// Participant reports whether the user belongs to the conversation.
func (c *Conversation) Participant(userUUID string) bool {
	return c.RequestorUUID == userUUID || c.ProviderUUID == userUUID
}

type Message struct {
	ID             int64     `json:"-"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderUUID     string    `json:"sender_uuid"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageReceipt tracks delivery and read state per (message, user).
type MessageReceipt struct {
	ID          int64      `json:"-"`
	MessageID   string     `json:"message_id"`
	UserUUID    string     `json:"user_uuid"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// ConversationReadState tracks per (conversation, user) unread bookkeeping.
// UnreadCount is recomputed from messages, never decremented in place.
type ConversationReadState struct {
	ID             int64      `json:"-"`
	ConversationID string     `json:"conversation_id"`
	UserUUID       string     `json:"user_uuid"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	UnreadCount    int        `json:"unread_count"`
}
