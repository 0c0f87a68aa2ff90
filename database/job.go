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
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// GetJob retrieves a job by id.
func (d Datasource) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT job_id, request_id, offer_id, conversation_id, payment_id,
			requestor_uuid, provider_uuid, price, tip, status, code,
			COALESCE(review_id, ''), COALESCE(dispute_id, ''),
			COALESCE(cancel_reason, ''), COALESCE(cancel_reason_category, ''),
			canceled_at, created_at, updated_at
		FROM jobs WHERE job_id = $1
	`, jobID)

	j := &model.Job{}
	var canceledAt sql.NullTime
	err := row.Scan(&j.JobID, &j.RequestID, &j.OfferID, &j.ConversationID, &j.PaymentID,
		&j.RequestorUUID, &j.ProviderUUID, &j.Price, &j.Tip, &j.Status, &j.Code,
		&j.ReviewID, &j.DisputeID, &j.CancelReason, &j.CancelReasonCategory,
		&canceledAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Job not found", jobID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	if canceledAt.Valid {
		j.CanceledAt = &canceledAt.Time
	}
	return j, nil
}

// lockJob loads a job row under FOR UPDATE inside tx.
func lockJob(ctx context.Context, tx *sql.Tx, jobID string) (*model.Job, error) {
	j := &model.Job{JobID: jobID}
	err := tx.QueryRowContext(ctx, `
		SELECT offer_id, conversation_id, requestor_uuid, provider_uuid, price, tip, status, code, COALESCE(review_id, '')
		FROM jobs WHERE job_id = $1
		FOR UPDATE
	`, jobID).Scan(&j.OfferID, &j.ConversationID, &j.RequestorUUID, &j.ProviderUUID,
		&j.Price, &j.Tip, &j.Status, &j.Code, &j.ReviewID)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Job not found", jobID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock job", err)
	}
	return j, nil
}

func appendTimeline(ctx context.Context, tx *sql.Tx, jobID, event, actorUUID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_timelines (job_id, event, actor_uuid) VALUES ($1, $2, $3)
	`, jobID, event, actorUUID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record job timeline", err)
	}
	return nil
}

// StartJob moves a pending job to in_progress. Only the requestor starts a
// job, and only from pending; the provider confirms the code on site with a
// separate read-only check.
func (d Datasource) StartJob(ctx context.Context, jobID, actorUUID string) (*model.Job, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	j, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if actorUUID != j.RequestorUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can start a job", actorUUID)
	}
	if j.Status != model.JobStatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Job is not pending", j.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = NOW() WHERE job_id = $2
	`, model.JobStatusInProgress, jobID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to start job", err)
	}
	if err := appendTimeline(ctx, tx, jobID, model.TimelineJobStarted, actorUUID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit job start", err)
	}
	j.Status = model.JobStatusInProgress
	return j, nil
}

// CompleteJob settles an in_progress job: the provider's wallet receives the
// price as a locked credit, the offer moves to paid, and the conversation is
// restricted and unlocked. All writes commit together.
func (d Datasource) CompleteJob(ctx context.Context, jobID, actorUUID, providerWalletID string) (*model.Job, *model.Transaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	j, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if actorUUID != j.RequestorUUID {
		return nil, nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can complete a job", actorUUID)
	}
	if j.Status != model.JobStatusInProgress {
		return nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Job is not in progress", j.Status)
	}

	_, err = tx.ExecContext(ctx, `
		SELECT total_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
	`, providerWalletID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	now := time.Now()
	txn := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      providerWalletID,
		Type:          model.TransactionTypeCredit,
		Amount:        j.Price,
		Remark:        "job earnings",
		JobID:         jobID,
		Status:        model.TransactionStatusSuccess,
		Locked:        true,
		LockedAt:      &now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, job_id, status, locked, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		RETURNING created_at
	`, txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Remark,
		jobID, txn.Status, now).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record earnings", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET total_balance = total_balance + $1 WHERE wallet_id = $2
	`, j.Price, providerWalletID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply earnings", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = NOW() WHERE job_id = $2
	`, model.JobStatusCompleted, jobID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete job", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = NOW() WHERE offer_id = $2
	`, model.OfferStatusPaid, j.OfferID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark offer paid", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET locked = FALSE, restricted = TRUE, updated_at = NOW()
		WHERE conversation_id = $1
	`, j.ConversationID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restrict conversation", err)
	}

	if err := appendTimeline(ctx, tx, jobID, model.TimelineJobCompleted, actorUUID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit job completion", err)
	}
	j.Status = model.JobStatusCompleted
	return j, txn, nil
}

// CancelJob refunds the requestor with a locked credit of the job price, burns
// one cancellation chance (floored at zero), and restricts the conversation.
// Only pending jobs cancel; started work settles through complete or dispute.
func (d Datasource) CancelJob(ctx context.Context, jobID, actorUUID, requestorWalletID, reason, category string) (*model.Job, *model.Transaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	j, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if actorUUID != j.RequestorUUID {
		return nil, nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can cancel a job", actorUUID)
	}
	if j.Status != model.JobStatusPending {
		return nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Job cannot be canceled", j.Status)
	}

	_, err = tx.ExecContext(ctx, `
		SELECT total_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
	`, requestorWalletID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
	}

	now := time.Now()
	txn := &model.Transaction{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		WalletID:      requestorWalletID,
		Type:          model.TransactionTypeCredit,
		Amount:        j.Price,
		Remark:        "job refund",
		JobID:         jobID,
		Status:        model.TransactionStatusSuccess,
		Locked:        true,
		LockedAt:      &now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, job_id, status, locked, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		RETURNING created_at
	`, txn.TransactionID, txn.WalletID, txn.Type, txn.Amount, txn.Remark,
		jobID, txn.Status, now).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record refund", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET total_balance = total_balance + $1 WHERE wallet_id = $2
	`, j.Price, requestorWalletID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply refund", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, cancel_reason = $2, cancel_reason_category = $3,
			canceled_at = $4, updated_at = NOW()
		WHERE job_id = $5
	`, model.JobStatusCanceled, nullString(reason), nullString(category), now, jobID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel job", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, reason = $2, reason_category = $3, updated_at = NOW()
		WHERE offer_id = $4
	`, model.OfferStatusCancelled, nullString(reason), nullString(category), j.OfferID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel offer", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET locked = FALSE, restricted = TRUE,
			cancellation_chances = GREATEST(cancellation_chances - 1, 0),
			updated_at = NOW()
		WHERE conversation_id = $1
	`, j.ConversationID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restrict conversation", err)
	}

	if err := appendTimeline(ctx, tx, jobID, model.TimelineJobCanceled, actorUUID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit cancellation", err)
	}
	j.Status = model.JobStatusCanceled
	j.CancelReason = reason
	j.CancelReasonCategory = category
	j.CanceledAt = &now
	return j, txn, nil
}

// DisputeJob moves an in_progress job to disputed and restricts the
// conversation. No funds move; the held price stays with the platform until
// the dispute is resolved out of band.
func (d Datasource) DisputeJob(ctx context.Context, jobID, actorUUID, reason string) (*model.Job, *model.JobDispute, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	j, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if actorUUID != j.RequestorUUID {
		return nil, nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can dispute a job", actorUUID)
	}
	if j.Status != model.JobStatusInProgress {
		return nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Job is not in progress", j.Status)
	}

	dispute := &model.JobDispute{
		DisputeID:    model.GenerateUUIDWithSuffix("dsp"),
		JobID:        jobID,
		RaisedByUUID: actorUUID,
		Reason:       reason,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO job_disputes (dispute_id, job_id, raised_by_uuid, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, dispute.DisputeID, dispute.JobID, dispute.RaisedByUUID, dispute.Reason).Scan(&dispute.CreatedAt)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create dispute", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, dispute_id = $2, updated_at = NOW() WHERE job_id = $3
	`, model.JobStatusDisputed, dispute.DisputeID, jobID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to dispute job", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET restricted = TRUE, updated_at = NOW() WHERE conversation_id = $1
	`, j.ConversationID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restrict conversation", err)
	}

	if err := appendTimeline(ctx, tx, jobID, model.TimelineJobDisputed, actorUUID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit dispute", err)
	}
	j.Status = model.JobStatusDisputed
	j.DisputeID = dispute.DisputeID
	return j, dispute, nil
}

// AttachReview records the requestor's one-time rating of a completed job and
// moves an optional tip. The tip is a paired debit/credit; both wallets are
// locked in wallet_id order so two concurrent reviews touching the same pair
// cannot deadlock. A tip exceeding the requestor's available balance rejects
// the whole review.
func (d Datasource) AttachReview(ctx context.Context, jobID, actorUUID string, rating int, comment string, tip decimal.Decimal, requestorWalletID, providerWalletID string) (*model.Job, *model.JobReview, error) {
	if rating < 1 || rating > 5 {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Rating must be between 1 and 5", rating)
	}
	if tip.IsNegative() {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tip cannot be negative", tip.String())
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	j, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if actorUUID != j.RequestorUUID {
		return nil, nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can review a job", actorUUID)
	}
	if j.Status != model.JobStatusCompleted {
		return nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Job is not completed", j.Status)
	}
	if j.ReviewID != "" {
		return nil, nil, apierror.NewAPIError(apierror.ErrConflict, "Job already reviewed", j.ReviewID)
	}

	if tip.IsPositive() {
		walletIDs := []string{requestorWalletID, providerWalletID}
		sort.Strings(walletIDs)

		var available decimal.Decimal
		for _, walletID := range walletIDs {
			var availableBalance decimal.Decimal
			err = tx.QueryRowContext(ctx, `
				SELECT available_balance FROM wallets WHERE wallet_id = $1 AND deleted_at IS NULL FOR UPDATE
			`, walletID).Scan(&availableBalance)
			if err != nil {
				return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet", err)
			}
			if walletID == requestorWalletID {
				available = availableBalance
			}
		}

		if available.LessThan(tip) {
			return nil, nil, apierror.NewAPIError(apierror.ErrNotAcceptable, "Insufficient balance for tip", map[string]string{
				"available": available.String(),
				"tip":       tip.String(),
			})
		}

		for _, movement := range []struct {
			walletID string
			txnType  string
		}{
			{requestorWalletID, model.TransactionTypeDebit},
			{providerWalletID, model.TransactionTypeCredit},
		} {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transactions (transaction_id, wallet_id, type, amount, remark, job_id, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, model.GenerateUUIDWithSuffix("txn"), movement.walletID, movement.txnType,
				tip, "job tip", jobID, model.TransactionStatusSuccess)
			if err != nil {
				return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record tip", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE wallets
			SET total_balance = total_balance - $1, available_balance = available_balance - $1
			WHERE wallet_id = $2
		`, tip, requestorWalletID)
		if err != nil {
			return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to debit tip", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets
			SET total_balance = total_balance + $1, available_balance = available_balance + $1
			WHERE wallet_id = $2
		`, tip, providerWalletID)
		if err != nil {
			return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to credit tip", err)
		}
	}

	review := &model.JobReview{
		ReviewID:  model.GenerateUUIDWithSuffix("rev"),
		JobID:     jobID,
		RaterUUID: actorUUID,
		Rating:    rating,
		Comment:   comment,
		Tip:       tip,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO job_reviews (review_id, job_id, rater_uuid, rating, comment, tip)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, review.ReviewID, review.JobID, review.RaterUUID, review.Rating,
		nullString(comment), review.Tip).Scan(&review.CreatedAt)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create review", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET review_id = $1, tip = $2, updated_at = NOW() WHERE job_id = $3
	`, review.ReviewID, tip, jobID)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to attach review", err)
	}

	if err := appendTimeline(ctx, tx, jobID, model.TimelineJobRated, actorUUID); err != nil {
		return nil, nil, err
	}
	if tip.IsPositive() {
		if err := appendTimeline(ctx, tx, jobID, model.TimelineJobTipped, actorUUID); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit review", err)
	}
	j.ReviewID = review.ReviewID
	j.Tip = tip
	return j, review, nil
}

// CreateJobReport records a provider's report of a problematic job.
func (d Datasource) CreateJobReport(ctx context.Context, r *model.JobReport) (*model.JobReport, error) {
	if r.ReportID == "" {
		r.ReportID = model.GenerateUUIDWithSuffix("rpt")
	}
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO job_reports (report_id, job_id, reporter_uuid, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, r.ReportID, r.JobID, r.ReporterUUID, r.Reason).Scan(&r.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create report", err)
	}
	return r, nil
}

// GetJobTimeline lists a job's audit events oldest first.
func (d Datasource) GetJobTimeline(ctx context.Context, jobID string) ([]model.JobTimeline, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT job_id, event, actor_uuid, created_at
		FROM job_timelines WHERE job_id = $1
		ORDER BY id
	`, jobID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list timeline", err)
	}
	defer rows.Close()

	var timeline []model.JobTimeline
	for rows.Next() {
		var entry model.JobTimeline
		if err := rows.Scan(&entry.JobID, &entry.Event, &entry.ActorUUID, &entry.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan timeline", err)
		}
		timeline = append(timeline, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read timeline", err)
	}
	return timeline, nil
}
