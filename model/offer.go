package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OfferStatusPending   = "pending"
	OfferStatusAccepted  = "accepted"
	OfferStatusDeclined  = "declined"
	OfferStatusCountered = "countered"
	OfferStatusCancelled = "cancelled"
	OfferStatusPaid      = "paid"
)

// maxOfferChainDepth bounds counter-offer chain walks.
const maxOfferChainDepth = 64

// ErrOfferChainCycle is returned when a counter-offer chain references itself.
var ErrOfferChainCycle = errors.New("offer chain contains a cycle")

// Offer is a priced proposal inside a conversation. Counter-offers form a
// linked list through CurrentOfferID; the newest offer in a negotiation is the
// chain head and the only row that can still transition.
type Offer struct {
	ID             int64           `json:"-"`
	OfferID        string          `json:"offer_id"`
	ConversationID string          `json:"conversation_id"`
	SenderUUID     string          `json:"sender_uuid"`
	Price          decimal.Decimal `json:"price"`
	Status         string          `json:"status"`
	CurrentOfferID string          `json:"current_offer_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	ReasonCategory string          `json:"reason_category,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the offer row can no longer transition.
func (o *Offer) Terminal() bool {
	switch o.Status {
	case OfferStatusDeclined, OfferStatusCountered, OfferStatusCancelled, OfferStatusPaid, OfferStatusAccepted:
		return true
	}
	return false
}

// ChainHead walks CurrentOfferID references to the newest offer in the
// negotiation thread. The walk is guarded with a visited set and a depth cap
// so a corrupted chain cannot loop forever.
func (o *Offer) ChainHead(get func(offerID string) (*Offer, error)) (*Offer, error) {
	head := o
	visited := map[string]struct{}{o.OfferID: {}}
	for depth := 0; head.CurrentOfferID != "" && head.CurrentOfferID != head.OfferID; depth++ {
		if depth >= maxOfferChainDepth {
			return nil, ErrOfferChainCycle
		}
		next, err := get(head.CurrentOfferID)
		if err != nil {
			return nil, err
		}
		if _, seen := visited[next.OfferID]; seen {
			return nil, ErrOfferChainCycle
		}
		visited[next.OfferID] = struct{}{}
		head = next
	}
	return head, nil
}
