package fundi

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/database"
	"github.com/fundihq/fundi/internal/gateway"
	"github.com/fundihq/fundi/model"
)

const testWebhookSecret = "whsec_test"

func newTestFundi(t *testing.T) (*Fundi, sqlmock.Sqlmock, *capturePublisher) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Gateway: config.GatewayConfig{
			BaseUrl:       "https://gateway.test",
			SecretKey:     "sk_test",
			WebhookSecret: testWebhookSecret,
			TimeoutSec:    2,
			MaxRetries:    1,
		},
		Ledger:         config.LedgerConfig{Currency: "NGN", MaturationHours: 24},
		Reconciliation: config.ReconciliationConfig{StuckAfterMin: 30},
		Conversation:   config.ConversationConfig{CancellationChances: 3},
		Queue: config.QueueConfig{
			NotificationQueue: "notification_queue",
			SettlementQueue:   "settlement_queue",
			PaymentSweepQueue: "payment_sweep_queue",
		},
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f, err := NewFundi(&database.Datasource{Conn: db})
	require.NoError(t, err)

	events := &capturePublisher{}
	f.SetEventPublisher(events)
	return f, mock, events
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *capturePublisher) Publish(_ context.Context, event model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.events))
	for _, e := range c.events {
		names = append(names, e.Name)
	}
	return names
}

// stubGateway stands in for the provider client.
type stubGateway struct {
	verify   func(ctx context.Context, reference string) (*gateway.VerifyResult, error)
	transfer func(ctx context.Context, transfer gateway.TransferRequest) (*gateway.TransferResult, error)
}

func (s *stubGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	if s.verify == nil {
		return nil, gateway.ErrVerifyTimeout
	}
	return s.verify(ctx, reference)
}

func (s *stubGateway) InitiateTransfer(ctx context.Context, transfer gateway.TransferRequest) (*gateway.TransferResult, error) {
	if s.transfer == nil {
		return &gateway.TransferResult{Status: "pending", Reference: transfer.Reference}, nil
	}
	return s.transfer(ctx, transfer)
}

func signWebhook(raw []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}
