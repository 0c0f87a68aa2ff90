package fundi

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/internal/gateway"
	"github.com/fundihq/fundi/model"
)

func successVerifier(amount string) *stubGateway {
	return &stubGateway{
		verify: func(_ context.Context, reference string) (*gateway.VerifyResult, error) {
			return &gateway.VerifyResult{
				Reference: reference,
				Status:    "success",
				Amount:    decimal.RequireFromString(amount),
				Currency:  "NGN",
			}, nil
		},
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	raw := []byte(`{"event":"charge.success"}`)
	assert.True(t, VerifyWebhookSignature(raw, signWebhook(raw), testWebhookSecret))
	assert.False(t, VerifyWebhookSignature(raw, "deadbeef", testWebhookSecret))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f, _, _ := newTestFundi(t)

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000}}`)
	err := f.HandleWebhook(context.Background(), raw, "forged")
	assert.True(t, apierror.Is(err, apierror.ErrIntegrity))
}

func TestHandleWebhook_UnknownEventAcknowledged(t *testing.T) {
	f, mock, _ := newTestFundi(t)
	f.gateway = &stubGateway{} // must not be called

	raw := []byte(`{"event":"subscription.create","data":{}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	f, _, _ := newTestFundi(t)

	raw := []byte(`not json`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	assert.True(t, apierror.Is(err, apierror.ErrBadRequest))
}

func TestHandleWebhook_ChargeSuccessFundsWallet(t *testing.T) {
	f, mock, events := newTestFundi(t)
	f.gateway = successVerifier("5000.00")

	// Claim: lock payment, flip to processing.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payment_id, user_uuid, user_type, amount").
		WithArgs("ref1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status"}).
			AddRow("pay1", "usr1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeFundWallet, "", model.PaymentStatusPending))
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// Wallet upsert + fetch.
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT wallet_id, user_uuid, user_type, total_balance").
		WithArgs("usr1", model.UserTypeRequestor).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "user_uuid", "user_type", "total_balance", "available_balance", "currency", "created_at"}).
			AddRow("wal1", "usr1", model.UserTypeRequestor, "0", "0", "NGN", time.Now()))

	// Finalize: credit and success flip in one unit.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payments").
		WithArgs("pay1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.PaymentStatusProcessing))
	mock.ExpectExec("SELECT total_balance FROM wallets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000,"currency":"NGN"}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	assert.NotEmpty(t, events.names())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_ChargeSuccessCreatesJob(t *testing.T) {
	f, mock, events := newTestFundi(t)
	f.gateway = successVerifier("5000.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payment_id, user_uuid, user_type, amount").
		WithArgs("ref2").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status"}).
			AddRow("pay2", "req1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeJobOffer, "off1", model.PaymentStatusPending))
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payments").
		WithArgs("pay2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.PaymentStatusProcessing))
	mock.ExpectQuery("SELECT conversation_id, sender_uuid, price, status FROM offers").
		WithArgs("off1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "sender_uuid", "price", "status"}).
			AddRow("cnv1", "prv1", "5000.00", model.OfferStatusPending))
	mock.ExpectQuery("SELECT requestor_uuid, provider_uuid, locked").
		WithArgs("cnv1").
		WillReturnRows(sqlmock.NewRows([]string{"requestor_uuid", "provider_uuid", "locked", "restricted", "cancellation_chances"}).
			AddRow("req1", "prv1", false, false, 3))
	mock.ExpectExec("UPDATE offers SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET locked").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("INSERT INTO job_timelines").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref2","amount":500000,"currency":"NGN"}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	names := events.names()
	assert.Contains(t, names, model.EventJobCreated)
	assert.Contains(t, names, model.EventOfferUpdated)
	assert.Contains(t, names, model.EventConversationUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_ReplayIsNoop(t *testing.T) {
	f, mock, events := newTestFundi(t)
	f.gateway = successVerifier("5000.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payment_id, user_uuid, user_type, amount").
		WithArgs("ref1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status"}).
			AddRow("pay1", "usr1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeFundWallet, "", model.PaymentStatusSuccess))
	mock.ExpectRollback()

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000,"currency":"NGN"}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	assert.Empty(t, events.names(), "replays must not re-broadcast")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_AmountMismatchRejected(t *testing.T) {
	f, mock, _ := newTestFundi(t)
	f.gateway = successVerifier("100.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT payment_id, user_uuid, user_type, amount").
		WithArgs("ref1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status"}).
			AddRow("pay1", "usr1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeFundWallet, "", model.PaymentStatusPending))
	mock.ExpectExec("UPDATE payments").
		WithArgs(model.PaymentStatusFailed, "verified amount mismatch", "pay1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":10000,"currency":"NGN"}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	assert.True(t, apierror.Is(err, apierror.ErrIntegrity))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_GatewayReportsPendingCharge(t *testing.T) {
	f, mock, _ := newTestFundi(t)
	f.gateway = &stubGateway{
		verify: func(_ context.Context, reference string) (*gateway.VerifyResult, error) {
			return &gateway.VerifyResult{Reference: reference, Status: "pending"}, nil
		},
	}

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	assert.True(t, apierror.Is(err, apierror.ErrExternal), "a pending charge may still settle")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_VerifyTimeoutFailsDelivery(t *testing.T) {
	f, mock, _ := newTestFundi(t)
	f.gateway = &stubGateway{} // always times out

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	assert.True(t, apierror.Is(err, apierror.ErrExternal), "provider must retry later")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_GatewayReportsFailedCharge(t *testing.T) {
	f, mock, _ := newTestFundi(t)
	f.gateway = &stubGateway{
		verify: func(_ context.Context, reference string) (*gateway.VerifyResult, error) {
			return &gateway.VerifyResult{Reference: reference, Status: "failed"}, nil
		},
	}

	mock.ExpectQuery("SELECT payment_id, reference, user_uuid").
		WithArgs("ref1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "reference", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status", "meta_data", "processed_at", "created_at"}).
			AddRow("pay1", "ref1", "usr1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeFundWallet, "", model.PaymentStatusPending, []byte(`{}`), nil, time.Now()))
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	raw := []byte(`{"event":"charge.success","data":{"reference":"ref1","amount":500000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_TransferSuccessSettlesDebit(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	mock.ExpectQuery("SELECT transaction_id, wallet_id, type, amount").
		WithArgs("wdr_abc").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "wallet_id", "type", "amount", "remark", "job_id", "payment_id", "reference", "status", "locked", "locked_at", "released_at", "created_at"}).
			AddRow("txn1", "wal1", "debit", "750.00", "withdrawal", "", "", "wdr_abc", model.TransactionStatusPending, false, nil, nil, time.Now()))
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(model.TransactionStatusSuccess, "txn1", model.TransactionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	raw := []byte(`{"event":"transfer.success","data":{"reference":"wdr_abc","amount":75000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_TransferFailedReversesDebit(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	mock.ExpectQuery("SELECT transaction_id, wallet_id, type, amount").
		WithArgs("wdr_abc").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "wallet_id", "type", "amount", "remark", "job_id", "payment_id", "reference", "status", "locked", "locked_at", "released_at", "created_at"}).
			AddRow("txn1", "wal1", "debit", "750.00", "withdrawal", "", "", "wdr_abc", model.TransactionStatusPending, false, nil, nil, time.Now()))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT wallet_id, amount, status FROM transactions").
		WithArgs("txn1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "amount", "status"}).
			AddRow("wal1", "750.00", model.TransactionStatusPending))
	mock.ExpectExec("UPDATE transactions SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	raw := []byte(`{"event":"transfer.failed","data":{"reference":"wdr_abc","amount":75000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhook_TransferFailedReplayAcknowledged(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	mock.ExpectQuery("SELECT transaction_id, wallet_id, type, amount").
		WithArgs("wdr_abc").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "wallet_id", "type", "amount", "remark", "job_id", "payment_id", "reference", "status", "locked", "locked_at", "released_at", "created_at"}).
			AddRow("txn1", "wal1", "debit", "750.00", "withdrawal", "", "", "wdr_abc", model.TransactionStatusFailed, false, nil, nil, time.Now()))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT wallet_id, amount, status FROM transactions").
		WithArgs("txn1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "amount", "status"}).
			AddRow("wal1", "750.00", model.TransactionStatusFailed))
	mock.ExpectRollback()

	raw := []byte(`{"event":"transfer.failed","data":{"reference":"wdr_abc","amount":75000}}`)
	err := f.HandleWebhook(context.Background(), raw, signWebhook(raw))
	require.NoError(t, err, "second failed notification is a no-op")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStuckPayments(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	mock.ExpectQuery("SELECT payment_id, reference, user_uuid").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "reference", "user_uuid", "user_type", "amount", "currency", "purpose", "offer_id", "status", "created_at"}).
			AddRow("pay1", "ref1", "usr1", model.UserTypeRequestor, "5000.00", "NGN", model.PaymentPurposeFundWallet, "", model.PaymentStatusProcessing, time.Now().Add(-time.Hour)))

	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT wallet_id, user_uuid, user_type, total_balance").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "user_uuid", "user_type", "total_balance", "available_balance", "currency", "created_at"}).
			AddRow("wal1", "usr1", model.UserTypeRequestor, "0", "0", "NGN", time.Now()))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM payments").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.PaymentStatusProcessing))
	mock.ExpectExec("SELECT total_balance FROM wallets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	recovered, err := f.SweepStuckPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	assert.NoError(t, mock.ExpectationsWereMet())
}
