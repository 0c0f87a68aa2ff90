package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Provider webhook event kinds handled by reconciliation. Unknown kinds are
// acknowledged and ignored.
const (
	WebhookChargeSuccess    = "charge.success"
	WebhookTransferSuccess  = "transfer.success"
	WebhookTransferFailed   = "transfer.failed"
	WebhookTransferReversed = "transfer.reversed"
)

// WebhookEnvelope is the raw provider payload: an event tag plus an opaque
// data object. Control flow dispatches on the tag, never on the blob's shape.
type WebhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChargeEvent is the parsed body of a charge.success webhook. Amount arrives
// in currency subunits and is converted to a 2-fraction-digit decimal.
type ChargeEvent struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Channel   string
}

// TransferEvent is the parsed body of a transfer.* webhook. Reference carries
// the ledger transaction identifier the transfer was initiated with.
type TransferEvent struct {
	Kind      string
	Reference string
	Amount    decimal.Decimal
	Currency  string
}

// UnknownEvent is returned for event kinds reconciliation does not handle.
type UnknownEvent struct {
	Event string
}

type chargeData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Channel   string `json:"channel"`
}

type transferData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// SubunitsToAmount converts provider integer subunits to a decimal amount
// with two fraction digits.
func SubunitsToAmount(subunits int64) decimal.Decimal {
	return decimal.New(subunits, -2)
}

// ParseWebhookEvent decodes a raw webhook body into one of the typed event
// structs. The raw bytes are decoded exactly once, at this boundary.
func ParseWebhookEvent(raw []byte) (interface{}, error) {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	switch envelope.Event {
	case WebhookChargeSuccess:
		var data chargeData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("malformed charge data: %w", err)
		}
		if data.Reference == "" {
			return nil, fmt.Errorf("charge event missing reference")
		}
		return &ChargeEvent{
			Reference: data.Reference,
			Amount:    SubunitsToAmount(data.Amount),
			Currency:  data.Currency,
			Channel:   data.Channel,
		}, nil
	case WebhookTransferSuccess, WebhookTransferFailed, WebhookTransferReversed:
		var data transferData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("malformed transfer data: %w", err)
		}
		if data.Reference == "" {
			return nil, fmt.Errorf("transfer event missing reference")
		}
		return &TransferEvent{
			Kind:      envelope.Event,
			Reference: data.Reference,
			Amount:    SubunitsToAmount(data.Amount),
			Currency:  data.Currency,
		}, nil
	default:
		return &UnknownEvent{Event: envelope.Event}, nil
	}
}
