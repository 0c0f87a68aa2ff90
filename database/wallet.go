/*
Copyright 2024 Fundi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// GetOrCreateWallet returns the wallet for (userUUID, userType), creating it
// with zero balances on first use. A user holds one wallet per role.
func (d Datasource) GetOrCreateWallet(ctx context.Context, userUUID, userType, currency string) (*model.Wallet, error) {
	walletID := model.GenerateUUIDWithSuffix("wal")
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO wallets (wallet_id, user_uuid, user_type, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_uuid, user_type) DO NOTHING
	`, walletID, userUUID, userType, currency)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create wallet", err)
	}
	return d.GetWalletByUser(ctx, userUUID, userType)
}

// GetWalletByUser retrieves a wallet by its owner and role.
func (d Datasource) GetWalletByUser(ctx context.Context, userUUID, userType string) (*model.Wallet, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT wallet_id, user_uuid, user_type, total_balance, available_balance, currency, created_at
		FROM wallets
		WHERE user_uuid = $1 AND user_type = $2 AND deleted_at IS NULL
	`, userUUID, userType)
	return scanWallet(row)
}

// GetWalletByID retrieves a wallet by its identifier.
func (d Datasource) GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT wallet_id, user_uuid, user_type, total_balance, available_balance, currency, created_at
		FROM wallets
		WHERE wallet_id = $1 AND deleted_at IS NULL
	`, walletID)
	return scanWallet(row)
}

func scanWallet(row *sql.Row) (*model.Wallet, error) {
	wallet := &model.Wallet{}
	err := row.Scan(&wallet.WalletID, &wallet.UserUUID, &wallet.UserType,
		&wallet.TotalBalance, &wallet.AvailableBalance, &wallet.Currency, &wallet.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Wallet not found", err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}
	return wallet, nil
}

// CreditWallet adds funds to a wallet and records the movement. A locked
// credit raises total_balance only; available_balance follows when the lock is
// released by SettleDueLocks. The balance update and the transaction row
// commit together.
func (d Datasource) CreditWallet(ctx context.Context, walletID string, amount decimal.Decimal, remark string, locked bool, jobID, paymentID string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Credit amount must be positive", amount.String())
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var currentTotal decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT total_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
	`, walletID).Scan(&currentTotal)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Wallet not found", walletID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	txn := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      walletID,
		Type:          model.TransactionTypeCredit,
		Amount:        amount,
		Remark:        remark,
		JobID:         jobID,
		PaymentID:     paymentID,
		Status:        model.TransactionStatusSuccess,
		Locked:        locked,
	}
	var lockedAt *time.Time
	if locked {
		now := time.Now()
		lockedAt = &now
		txn.LockedAt = lockedAt
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, job_id, payment_id, status, locked, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Remark,
		nullString(jobID), nullString(paymentID), txn.Status, txn.Locked, lockedAt).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record credit", err)
	}

	availableDelta := amount
	if locked {
		availableDelta = decimal.Zero
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET total_balance = total_balance + $1, available_balance = available_balance + $2
		WHERE wallet_id = $3
	`, amount, availableDelta, walletID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply credit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit credit", err)
	}
	return txn, nil
}

// DebitWallet removes spendable funds from a wallet. The debit is refused when
// available_balance would go negative.
func (d Datasource) DebitWallet(ctx context.Context, walletID string, amount decimal.Decimal, remark, jobID string) (*model.Transaction, error) {
	return d.debit(ctx, walletID, amount, remark, jobID, model.TransactionStatusSuccess, "")
}

// InitiateWithdrawal moves funds out of a wallet ahead of an external
// transfer. The debit is recorded as pending and flipped to success or
// reversed once the transfer outcome is known.
func (d Datasource) InitiateWithdrawal(ctx context.Context, walletID string, amount decimal.Decimal, remark string) (*model.Transaction, error) {
	reference := model.GenerateUUIDWithSuffix("wdr")
	return d.debit(ctx, walletID, amount, remark, "", model.TransactionStatusPending, reference)
}

func (d Datasource) debit(ctx context.Context, walletID string, amount decimal.Decimal, remark, jobID, status, reference string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Debit amount must be positive", amount.String())
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var available decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT available_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
	`, walletID).Scan(&available)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Wallet not found", walletID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	if available.LessThan(amount) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, "Insufficient available balance", map[string]string{
			"available": available.String(),
			"requested": amount.String(),
		})
	}

	txn := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      walletID,
		Type:          model.TransactionTypeDebit,
		Amount:        amount,
		Remark:        remark,
		JobID:         jobID,
		Reference:     reference,
		Status:        status,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, job_id, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Remark,
		nullString(jobID), nullString(reference), txn.Status).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record debit", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET total_balance = total_balance - $1, available_balance = available_balance - $1
		WHERE wallet_id = $2
	`, amount, walletID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply debit", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit debit", err)
	}
	return txn, nil
}

// SettleDueLocks releases every locked credit whose maturation window has
// elapsed, raising available_balance on the owning wallets. Released rows are
// filtered on released_at IS NULL so a sweep that runs twice settles nothing
// twice. Returns the number of transactions released.
func (d Datasource) SettleDueLocks(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cutoff := now.Add(-window)
	rows, err := tx.QueryContext(ctx, `
		SELECT transaction_id, wallet_id, amount
		FROM transactions
		WHERE locked = TRUE AND released_at IS NULL AND locked_at <= $1
		ORDER BY id
		FOR UPDATE
	`, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select due locks", err)
	}
	defer rows.Close()

	type dueLock struct {
		transactionID string
		walletID      string
		amount        decimal.Decimal
	}
	var due []dueLock
	for rows.Next() {
		var l dueLock
		if err := rows.Scan(&l.transactionID, &l.walletID, &l.amount); err != nil {
			return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan due lock", err)
		}
		due = append(due, l)
	}
	if err := rows.Err(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read due locks", err)
	}

	for _, l := range due {
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET available_balance = available_balance + $1 WHERE wallet_id = $2
		`, l.amount, l.walletID)
		if err != nil {
			return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release lock", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET released_at = $1 WHERE transaction_id = $2 AND released_at IS NULL
		`, now, l.transactionID)
		if err != nil {
			return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark lock released", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit lock release", err)
	}
	return int64(len(due)), nil
}

// GetTransactionByID retrieves a single ledger movement.
func (d Datasource) GetTransactionByID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, wallet_id, type, amount, remark,
			COALESCE(job_id, ''), COALESCE(payment_id, ''), COALESCE(reference, ''),
			status, locked, locked_at, released_at, created_at
		FROM transactions WHERE transaction_id = $1
	`, transactionID)
	return scanTransaction(row)
}

// GetTransactionByRef retrieves a ledger movement by its external reference.
func (d Datasource) GetTransactionByRef(ctx context.Context, reference string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, wallet_id, type, amount, remark,
			COALESCE(job_id, ''), COALESCE(payment_id, ''), COALESCE(reference, ''),
			status, locked, locked_at, released_at, created_at
		FROM transactions WHERE reference = $1
	`, reference)
	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var lockedAt, releasedAt sql.NullTime
	err := row.Scan(&txn.TransactionID, &txn.WalletID, &txn.Type, &txn.Amount, &txn.Remark,
		&txn.JobID, &txn.PaymentID, &txn.Reference,
		&txn.Status, &txn.Locked, &lockedAt, &releasedAt, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	if lockedAt.Valid {
		txn.LockedAt = &lockedAt.Time
	}
	if releasedAt.Valid {
		txn.ReleasedAt = &releasedAt.Time
	}
	return txn, nil
}

// MarkTransactionStatus updates a pending transaction's final status.
func (d Datasource) MarkTransactionStatus(ctx context.Context, transactionID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE transaction_id = $2 AND status = $3
	`, status, transactionID, model.TransactionStatusPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Transaction is not pending", transactionID)
	}
	return nil
}

// ReverseTransferDebit compensates a withdrawal whose external transfer failed
// or was reversed. The original debit flips to failed and a matching credit
// restores the wallet in the same atomic unit. A debit already marked failed
// is not reversed again.
func (d Datasource) ReverseTransferDebit(ctx context.Context, transactionID, remark string) (*model.Transaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var walletID, status string
	var amount decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT wallet_id, amount, status FROM transactions
		WHERE transaction_id = $1 AND type = 'debit'
		FOR UPDATE
	`, transactionID).Scan(&walletID, &amount, &status)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", transactionID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock transaction", err)
	}
	if status == model.TransactionStatusFailed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Transfer already reversed", transactionID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE transaction_id = $2
	`, model.TransactionStatusFailed, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail transaction", err)
	}

	reversal := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      walletID,
		Type:          model.TransactionTypeCredit,
		Amount:        amount,
		Remark:        remark,
		Reference:     transactionID,
		Status:        model.TransactionStatusSuccess,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, reversal.TransactionID, reversal.WalletID, reversal.Type, reversal.Amount,
		reversal.Remark, reversal.Reference, reversal.Status).Scan(&reversal.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record reversal", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET total_balance = total_balance + $1, available_balance = available_balance + $1
		WHERE wallet_id = $2
	`, amount, walletID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restore wallet", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit reversal", err)
	}
	return reversal, nil
}

// GetWalletTransactions lists a wallet's ledger movements newest first. Pages
// are cached briefly; the history is append-mostly so a short TTL is safe.
func (d Datasource) GetWalletTransactions(ctx context.Context, walletID string, limit int, offset int64) ([]*model.Transaction, error) {
	cacheKey := fmt.Sprintf("transactions:wallet:%s:%d:%d", walletID, limit, offset)

	var transactions []*model.Transaction
	if d.Cache != nil {
		if err := d.Cache.Get(ctx, cacheKey, &transactions); err == nil && len(transactions) > 0 {
			return transactions, nil
		}
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, wallet_id, type, amount, remark,
			COALESCE(job_id, ''), COALESCE(payment_id, ''), COALESCE(reference, ''),
			status, locked, locked_at, released_at, created_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet transactions", err)
	}
	defer rows.Close()

	transactions = []*model.Transaction{}
	for rows.Next() {
		txn := &model.Transaction{}
		var lockedAt, releasedAt sql.NullTime
		err = rows.Scan(&txn.TransactionID, &txn.WalletID, &txn.Type, &txn.Amount, &txn.Remark,
			&txn.JobID, &txn.PaymentID, &txn.Reference,
			&txn.Status, &txn.Locked, &lockedAt, &releasedAt, &txn.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		if lockedAt.Valid {
			txn.LockedAt = &lockedAt.Time
		}
		if releasedAt.Valid {
			txn.ReleasedAt = &releasedAt.Time
		}
		transactions = append(transactions, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}

	if d.Cache != nil && len(transactions) > 0 {
		if err := d.Cache.Set(ctx, cacheKey, transactions, 1*time.Minute); err != nil {
			log.Printf("Failed to cache wallet transactions: %v", err)
		}
	}

	return transactions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
