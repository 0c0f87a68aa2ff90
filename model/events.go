package model

import "encoding/json"

// Real-time event names pushed to connected clients.
const (
	EventPresenceUpdate      = "presence:update"
	EventConversationCreated = "conversation:created"
	EventConversationUpdated = "conversation:updated"
	EventConversationRead    = "conversation:read"
	EventMessageCreated      = "message:created"
	EventMessageRead         = "message:read"
	EventOfferCreated        = "offer:created"
	EventOfferUpdated        = "offer:updated"
	EventOfferCountered      = "offer:countered"
	EventJobCreated          = "job:created"
	EventJobUpdated          = "job:updated"
	EventInboxBadge          = "inbox:badge"
)

// Event is the fan-out envelope. ConversationUUID addresses the conversation
// room; UserUUIDs address per-user rooms; callers pick the union appropriate
// to the event. ExcludeUUID keeps the acting user out of push notification
// dispatch.
type Event struct {
	Name             string          `json:"event"`
	ConversationUUID string          `json:"conversation_uuid,omitempty"`
	UserUUIDs        []string        `json:"user_uuids,omitempty"`
	ExcludeUUID      string          `json:"exclude_uuid,omitempty"`
	Push             bool            `json:"push"`
	Payload          json.RawMessage `json:"data"`
}

// NewEvent builds an event envelope, marshalling the payload. Marshal errors
// degrade to a null payload; fan-out is best effort by contract.
func NewEvent(name string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Event{Name: name, Payload: data}
}
