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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// ChargeState is the outcome of claiming a charge for processing.
type ChargeState int

const (
	// ChargeReady means this caller claimed the charge and must finalize it.
	ChargeReady ChargeState = iota
	// ChargeReplay means the charge was already settled or claimed; the
	// caller acknowledges and does nothing.
	ChargeReplay
	// ChargeAmountMismatch means the verified amount does not match the
	// recorded payment; the charge is rejected without moving funds.
	ChargeAmountMismatch
)

// CreatePayment records a pending payment intent ahead of the provider charge.
func (d Datasource) CreatePayment(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	if p.PaymentID == "" {
		p.PaymentID = model.GenerateUUIDWithSuffix("pay")
	}
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}
	metaDataJSON, err := json.Marshal(p.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid payment metadata", err)
	}

	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO payments (payment_id, reference, user_uuid, user_type, amount, currency, purpose, offer_id, status, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, p.PaymentID, p.Reference, p.UserUUID, p.UserType, p.Amount, p.Currency,
		p.Purpose, nullString(p.OfferID), p.Status, metaDataJSON).Scan(&p.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Payment reference already exists", p.Reference)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment", err)
	}
	return p, nil
}

// GetPaymentByReference retrieves a payment by its provider reference.
func (d Datasource) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT payment_id, reference, user_uuid, user_type, amount, currency, purpose,
			COALESCE(offer_id, ''), status, meta_data, processed_at, created_at
		FROM payments WHERE reference = $1
	`, reference)
	return scanPayment(row)
}

func scanPayment(row *sql.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var metaDataJSON []byte
	var processedAt sql.NullTime
	err := row.Scan(&p.PaymentID, &p.Reference, &p.UserUUID, &p.UserType, &p.Amount,
		&p.Currency, &p.Purpose, &p.OfferID, &p.Status, &metaDataJSON, &processedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Payment not found", err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &p.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode payment metadata", err)
		}
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return p, nil
}

// BeginChargeProcessing claims a verified charge for fund movement. The
// payment row is locked before its status is read so two replicas handling the
// same webhook serialize; exactly one sees pending and claims it. The claim
// commits the processing status on its own, so a crash between claim and
// finalize leaves a visible stuck payment instead of double-applied funds.
func (d Datasource) BeginChargeProcessing(ctx context.Context, reference string, verifiedAmount decimal.Decimal) (*model.Payment, ChargeState, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	p := &model.Payment{Reference: reference}
	err = tx.QueryRowContext(ctx, `
		SELECT payment_id, user_uuid, user_type, amount, currency, purpose, COALESCE(offer_id, ''), status
		FROM payments WHERE reference = $1
		FOR UPDATE
	`, reference).Scan(&p.PaymentID, &p.UserUUID, &p.UserType, &p.Amount,
		&p.Currency, &p.Purpose, &p.OfferID, &p.Status)
	if err == sql.ErrNoRows {
		return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrNotFound, "Payment not found", reference)
	}
	if err != nil {
		return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock payment", err)
	}

	if p.Settled() {
		return p, ChargeReplay, nil
	}
	if p.Status == model.PaymentStatusFailed {
		return p, ChargeReplay, nil
	}

	if !p.Amount.Equal(verifiedAmount) {
		// The failed flip commits so provider retries replay instead of
		// re-verifying a still-pending payment forever.
		_, err = tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $1, meta_data = COALESCE(meta_data, '{}'::jsonb) || jsonb_build_object('failure_reason', $2::text)
			WHERE payment_id = $3
		`, model.PaymentStatusFailed, "verified amount mismatch", p.PaymentID)
		if err != nil {
			return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment failed", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit failure", err)
		}
		p.Status = model.PaymentStatusFailed
		return p, ChargeAmountMismatch, apierror.NewAPIError(apierror.ErrIntegrity, "Verified amount does not match payment", map[string]string{
			"reference": reference,
			"recorded":  p.Amount.String(),
			"verified":  verifiedAmount.String(),
		})
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1 WHERE payment_id = $2
	`, model.PaymentStatusProcessing, p.PaymentID)
	if err != nil {
		return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim payment", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ChargeReplay, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit claim", err)
	}
	p.Status = model.PaymentStatusProcessing
	return p, ChargeReady, nil
}

// FinalizeWalletFunding credits the payer's wallet for a claimed fund_wallet
// charge. The credit and the payment's success flip commit together; the
// processing status is re-asserted under lock so a finalize retried after a
// concurrent completion applies nothing.
func (d Datasource) FinalizeWalletFunding(ctx context.Context, p *model.Payment, walletID string) (*model.Transaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM payments WHERE payment_id = $1 FOR UPDATE
	`, p.PaymentID).Scan(&status)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock payment", err)
	}
	if status != model.PaymentStatusProcessing {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Payment is not processing", p.PaymentID)
	}

	_, err = tx.ExecContext(ctx, `
		SELECT total_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
	`, walletID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	txn := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      walletID,
		Type:          model.TransactionTypeCredit,
		Amount:        p.Amount,
		Remark:        "wallet funding",
		PaymentID:     p.PaymentID,
		Reference:     p.Reference,
		Status:        model.TransactionStatusSuccess,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, payment_id, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Remark,
		txn.PaymentID, txn.Reference, txn.Status).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record funding credit", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET total_balance = total_balance + $1, available_balance = available_balance + $1
		WHERE wallet_id = $2
	`, p.Amount, walletID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply funding credit", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, processed_at = NOW() WHERE payment_id = $2
	`, model.PaymentStatusSuccess, p.PaymentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment success", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit funding", err)
	}
	p.Status = model.PaymentStatusSuccess
	return txn, nil
}

// FinalizeOfferPayment turns a claimed job_offer charge into a job: the offer
// moves to accepted, the conversation unlocks with its cancellation chances
// reset, and a pending job is created with its confirmation code and request
// id. Everything commits together with the payment's success flip.
func (d Datasource) FinalizeOfferPayment(ctx context.Context, p *model.Payment, code, requestID string, chances int) (*model.Job, *model.Offer, *model.Conversation, error) {
	if p.OfferID == "" {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payment has no offer", p.PaymentID)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM payments WHERE payment_id = $1 FOR UPDATE
	`, p.PaymentID).Scan(&status)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock payment", err)
	}
	if status != model.PaymentStatusProcessing {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Payment is not processing", p.PaymentID)
	}

	offer := &model.Offer{OfferID: p.OfferID}
	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, sender_uuid, price, status FROM offers
		WHERE offer_id = $1
		FOR UPDATE
	`, p.OfferID).Scan(&offer.ConversationID, &offer.SenderUUID, &offer.Price, &offer.Status)
	if err == sql.ErrNoRows {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrNotFound, "Offer not found", p.OfferID)
	}
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock offer", err)
	}
	if offer.Status != model.OfferStatusPending {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Offer is no longer pending", offer.Status)
	}

	conversation := &model.Conversation{ConversationID: offer.ConversationID}
	err = tx.QueryRowContext(ctx, `
		SELECT requestor_uuid, provider_uuid, locked, restricted, cancellation_chances
		FROM conversations WHERE conversation_id = $1
		FOR UPDATE
	`, offer.ConversationID).Scan(&conversation.RequestorUUID, &conversation.ProviderUUID,
		&conversation.Locked, &conversation.Restricted, &conversation.CancellationChances)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock conversation", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = NOW() WHERE offer_id = $2
	`, model.OfferStatusAccepted, p.OfferID)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to accept offer", err)
	}
	offer.Status = model.OfferStatusAccepted

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET locked = FALSE, restricted = FALSE,
			cancellation_chances = $1, updated_at = NOW()
		WHERE conversation_id = $2
	`, chances, offer.ConversationID)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unlock conversation", err)
	}
	conversation.Locked = false
	conversation.Restricted = false
	conversation.CancellationChances = chances

	j := &model.Job{
		JobID:          model.GenerateUUIDWithSuffix("job"),
		RequestID:      requestID,
		OfferID:        p.OfferID,
		ConversationID: offer.ConversationID,
		PaymentID:      p.PaymentID,
		RequestorUUID:  conversation.RequestorUUID,
		ProviderUUID:   conversation.ProviderUUID,
		Price:          offer.Price,
		Tip:            decimal.Zero,
		Status:         model.JobStatusPending,
		Code:           code,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO jobs (job_id, request_id, offer_id, conversation_id, payment_id, requestor_uuid, provider_uuid, price, status, code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, j.JobID, j.RequestID, j.OfferID, j.ConversationID, j.PaymentID,
		j.RequestorUUID, j.ProviderUUID, j.Price, j.Status, j.Code).Scan(&j.CreatedAt)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create job", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_timelines (job_id, event, actor_uuid) VALUES ($1, $2, $3)
	`, j.JobID, model.TimelineJobCreated, conversation.RequestorUUID)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record job timeline", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, processed_at = NOW() WHERE payment_id = $2
	`, model.PaymentStatusSuccess, p.PaymentID)
	if err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment success", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit offer payment", err)
	}
	p.Status = model.PaymentStatusSuccess
	return j, offer, conversation, nil
}

// MarkPaymentFailed records a failed charge outcome. Settled payments are left
// untouched.
func (d Datasource) MarkPaymentFailed(ctx context.Context, paymentID, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, meta_data = COALESCE(meta_data, '{}'::jsonb) || jsonb_build_object('failure_reason', $2::text)
		WHERE payment_id = $3 AND status NOT IN ($4, $5)
	`, model.PaymentStatusFailed, reason, paymentID,
		model.PaymentStatusSuccess, model.PaymentStatusProcessing)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment failed", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Payment already settled", paymentID)
	}
	return nil
}

// GetStuckPayments lists payments claimed for processing before olderThan that
// never finalized. These are crash survivors the sweep re-drives.
func (d Datasource) GetStuckPayments(ctx context.Context, olderThan time.Time) ([]model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT payment_id, reference, user_uuid, user_type, amount, currency, purpose, COALESCE(offer_id, ''), status, created_at
		FROM payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`, model.PaymentStatusProcessing, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list stuck payments", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		err := rows.Scan(&p.PaymentID, &p.Reference, &p.UserUUID, &p.UserType,
			&p.Amount, &p.Currency, &p.Purpose, &p.OfferID, &p.Status, &p.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan stuck payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read stuck payments", err)
	}
	return payments, nil
}
