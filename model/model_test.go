package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("wal")
	assert.Contains(t, id, "wal_")
	assert.Len(t, id, 4+36)
}

func TestGeneratePinCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GeneratePinCode()
		require.NoError(t, err)
		assert.Len(t, code, 4)
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	assert.Contains(t, id, "REQ-")
	assert.Len(t, id, 12)
}

func TestTransactionMatured(t *testing.T) {
	now := time.Now()
	lockedAt := now.Add(-25 * time.Hour)
	window := 24 * time.Hour

	txn := Transaction{Locked: true, LockedAt: &lockedAt}
	assert.True(t, txn.Matured(now, window))

	fresh := now.Add(-1 * time.Hour)
	txn = Transaction{Locked: true, LockedAt: &fresh}
	assert.False(t, txn.Matured(now, window))

	released := now
	txn = Transaction{Locked: true, LockedAt: &lockedAt, ReleasedAt: &released}
	assert.False(t, txn.Matured(now, window), "released transactions must not mature again")

	txn = Transaction{Locked: false, LockedAt: &lockedAt}
	assert.False(t, txn.Matured(now, window))
}

func TestOfferChainHead(t *testing.T) {
	offers := map[string]*Offer{
		"off_1": {OfferID: "off_1", Status: OfferStatusCountered, CurrentOfferID: "off_2"},
		"off_2": {OfferID: "off_2", Status: OfferStatusCountered, CurrentOfferID: "off_3"},
		"off_3": {OfferID: "off_3", Status: OfferStatusPending, Price: decimal.NewFromInt(5000)},
	}
	get := func(id string) (*Offer, error) { return offers[id], nil }

	head, err := offers["off_1"].ChainHead(get)
	require.NoError(t, err)
	assert.Equal(t, "off_3", head.OfferID)
	assert.Equal(t, OfferStatusPending, head.Status)
}

func TestOfferChainHeadCycle(t *testing.T) {
	offers := map[string]*Offer{
		"off_1": {OfferID: "off_1", CurrentOfferID: "off_2"},
		"off_2": {OfferID: "off_2", CurrentOfferID: "off_1"},
	}
	get := func(id string) (*Offer, error) { return offers[id], nil }

	_, err := offers["off_1"].ChainHead(get)
	assert.ErrorIs(t, err, ErrOfferChainCycle)
}

func TestParseWebhookEventCharge(t *testing.T) {
	raw := []byte(`{"event":"charge.success","data":{"reference":"PAY1","amount":500000,"currency":"NGN","channel":"card"}}`)
	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	charge, ok := event.(*ChargeEvent)
	require.True(t, ok)
	assert.Equal(t, "PAY1", charge.Reference)
	assert.True(t, charge.Amount.Equal(decimal.RequireFromString("5000.00")))
}

func TestParseWebhookEventTransfer(t *testing.T) {
	raw := []byte(`{"event":"transfer.reversed","data":{"reference":"txn_abc","amount":150000,"currency":"NGN"}}`)
	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	transfer, ok := event.(*TransferEvent)
	require.True(t, ok)
	assert.Equal(t, WebhookTransferReversed, transfer.Kind)
	assert.True(t, transfer.Amount.Equal(decimal.RequireFromString("1500.00")))
}

func TestParseWebhookEventUnknown(t *testing.T) {
	raw := []byte(`{"event":"subscription.create","data":{}}`)
	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	_, ok := event.(*UnknownEvent)
	assert.True(t, ok, "unknown event kinds are acknowledged, never fatal")
}

func TestParseWebhookEventMalformed(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`{"event":"charge.success","data":{"amount":100}}`))
	assert.Error(t, err, "charge without reference is rejected")

	_, err = ParseWebhookEvent([]byte(`not-json`))
	assert.Error(t, err)
}

func TestConversationHelpers(t *testing.T) {
	conv := Conversation{RequestorUUID: "u1", ProviderUUID: "u2"}
	assert.Equal(t, "u2", conv.Counterparty("u1"))
	assert.Equal(t, "u1", conv.Counterparty("u2"))
	assert.True(t, conv.Participant("u1"))
	assert.False(t, conv.Participant("u3"))
}
