package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

func TestGetOrCreateWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(sqlmock.AnyArg(), "usr1", model.UserTypeRequestor, "NGN").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery("SELECT wallet_id, user_uuid, user_type, total_balance").
		WithArgs("usr1", model.UserTypeRequestor).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "user_uuid", "user_type", "total_balance", "available_balance", "currency", "created_at"}).
			AddRow("wal1", "usr1", model.UserTypeRequestor, "0", "0", "NGN", time.Now()))

	wallet, err := ds.GetOrCreateWallet(context.Background(), "usr1", model.UserTypeRequestor, "NGN")
	require.NoError(t, err)
	assert.Equal(t, "wal1", wallet.WalletID)
	assert.True(t, wallet.TotalBalance.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditWallet_Unlocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	amount := decimal.RequireFromString("500.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT total_balance FROM wallets").
		WithArgs("wal1").
		WillReturnRows(sqlmock.NewRows([]string{"total_balance"}).AddRow("100"))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(amount, amount, "wal1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := ds.CreditWallet(context.Background(), "wal1", amount, "wallet funding", false, "", "pay1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeCredit, txn.Type)
	assert.False(t, txn.Locked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditWallet_LockedRaisesTotalOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	amount := decimal.RequireFromString("2000.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT total_balance FROM wallets").
		WithArgs("wal1").
		WillReturnRows(sqlmock.NewRows([]string{"total_balance"}).AddRow("0"))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(amount, decimal.Zero, "wal1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := ds.CreditWallet(context.Background(), "wal1", amount, "job earnings", true, "job1", "")
	require.NoError(t, err)
	assert.True(t, txn.Locked)
	assert.NotNil(t, txn.LockedAt)
	assert.Nil(t, txn.ReleasedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitWallet_InsufficientFunds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT available_balance FROM wallets").
		WithArgs("wal1").
		WillReturnRows(sqlmock.NewRows([]string{"available_balance"}).AddRow("100"))
	mock.ExpectRollback()

	_, err = ds.DebitWallet(context.Background(), "wal1", decimal.RequireFromString("500"), "offer payment", "")
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientFunds))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitWallet_RejectsNonPositiveAmount(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	_, err = ds.DebitWallet(context.Background(), "wal1", decimal.Zero, "nothing", "")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestInitiateWithdrawal_RecordsPendingDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	amount := decimal.RequireFromString("750.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT available_balance FROM wallets").
		WithArgs("wal1").
		WillReturnRows(sqlmock.NewRows([]string{"available_balance"}).AddRow("1000"))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(amount, "wal1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := ds.InitiateWithdrawal(context.Background(), "wal1", amount, "payout")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, txn.Status)
	assert.NotEmpty(t, txn.Reference)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleDueLocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT transaction_id, wallet_id, amount").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "wallet_id", "amount"}).
			AddRow("txn1", "wal1", "2000").
			AddRow("txn2", "wal2", "350.50"))
	mock.ExpectExec("UPDATE wallets SET available_balance").
		WithArgs(decimal.RequireFromString("2000"), "wal1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE transactions SET released_at").
		WithArgs(now, "txn1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE wallets SET available_balance").
		WithArgs(decimal.RequireFromString("350.50"), "wal2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE transactions SET released_at").
		WithArgs(now, "txn2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	released, err := ds.SettleDueLocks(context.Background(), now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleDueLocks_NothingDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT transaction_id, wallet_id, amount").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "wallet_id", "amount"}))
	mock.ExpectCommit()

	released, err := ds.SettleDueLocks(context.Background(), time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, released)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseTransferDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	amount := decimal.RequireFromString("750.00")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT wallet_id, amount, status FROM transactions").
		WithArgs("txn1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "amount", "status"}).
			AddRow("wal1", "750.00", model.TransactionStatusPending))
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(model.TransactionStatusFailed, "txn1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(amount, "wal1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reversal, err := ds.ReverseTransferDebit(context.Background(), "txn1", "transfer failed")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeCredit, reversal.Type)
	assert.Equal(t, "txn1", reversal.Reference)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverseTransferDebit_AlreadyReversed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT wallet_id, amount, status FROM transactions").
		WithArgs("txn1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "amount", "status"}).
			AddRow("wal1", "750.00", model.TransactionStatusFailed))
	mock.ExpectRollback()

	_, err = ds.ReverseTransferDebit(context.Background(), "txn1", "transfer failed")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTransactionStatus_NotPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(model.TransactionStatusSuccess, "txn1", model.TransactionStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.MarkTransactionStatus(context.Background(), "txn1", model.TransactionStatusSuccess)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	assert.NoError(t, mock.ExpectationsWereMet())
}
