package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSuccess    = "success"
	PaymentStatusFailed     = "failed"

	PaymentPurposeFundWallet = "fund_wallet"
	PaymentPurposeJobOffer   = "job_offer"
)

// Payment represents one external provider charge or transfer. Reference is
// the provider idempotency key. Status moves pending -> processing ->
// {success|failed} and never backwards; reprocessing a webhook for a payment
// already in success or processing is a no-op.
type Payment struct {
	ID          int64                  `json:"-"`
	PaymentID   string                 `json:"payment_id"`
	Reference   string                 `json:"reference"`
	UserUUID    string                 `json:"user_uuid"`
	UserType    string                 `json:"user_type"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	Purpose     string                 `json:"purpose"`
	OfferID     string                 `json:"offer_id,omitempty"`
	Status      string                 `json:"status"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func (p *Payment) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// Settled reports whether the payment has been picked up by a processor
// already. Processing counts: the webhook handler persists processing before
// moving funds, so a replay must not re-apply.
func (p *Payment) Settled() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusProcessing
}
