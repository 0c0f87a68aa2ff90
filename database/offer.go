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

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// CreateOffer inserts a pending offer into a conversation. The conversation is
// locked first: a conversation carrying an unfinished paid job, or one that is
// restricted, accepts no new offers.
func (d Datasource) CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var requestorUUID, providerUUID string
	var locked, restricted bool
	err = tx.QueryRowContext(ctx, `
		SELECT requestor_uuid, provider_uuid, locked, restricted
		FROM conversations WHERE conversation_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, o.ConversationID).Scan(&requestorUUID, &providerUUID, &locked, &restricted)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", o.ConversationID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock conversation", err)
	}

	if o.SenderUUID != requestorUUID && o.SenderUUID != providerUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Sender is not a conversation participant", o.SenderUUID)
	}
	if locked {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Conversation is locked by an active job", o.ConversationID)
	}
	if restricted {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Conversation is restricted", o.ConversationID)
	}

	o.OfferID = model.GenerateUUIDWithSuffix("off")
	o.Status = model.OfferStatusPending
	err = tx.QueryRowContext(ctx, `
		INSERT INTO offers (offer_id, conversation_id, sender_uuid, price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, o.OfferID, o.ConversationID, o.SenderUUID, o.Price, o.Status).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create offer", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit offer", err)
	}
	return o, nil
}

// GetOffer retrieves an offer by id.
func (d Datasource) GetOffer(ctx context.Context, offerID string) (*model.Offer, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT offer_id, conversation_id, sender_uuid, price, status,
			COALESCE(current_offer_id, ''), COALESCE(reason, ''), COALESCE(reason_category, ''),
			created_at, updated_at
		FROM offers WHERE offer_id = $1
	`, offerID)

	o := &model.Offer{}
	err := row.Scan(&o.OfferID, &o.ConversationID, &o.SenderUUID, &o.Price, &o.Status,
		&o.CurrentOfferID, &o.Reason, &o.ReasonCategory, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Offer not found", offerID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve offer", err)
	}
	return o, nil
}

// UpdateOfferStatusWithReason moves a pending offer to a terminal status,
// optionally recording a reason. Only pending offers transition; anything else
// conflicts.
func (d Datasource) UpdateOfferStatusWithReason(ctx context.Context, offerID, status, reason, category string) (*model.Offer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	o := &model.Offer{OfferID: offerID}
	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, sender_uuid, price, status FROM offers
		WHERE offer_id = $1
		FOR UPDATE
	`, offerID).Scan(&o.ConversationID, &o.SenderUUID, &o.Price, &o.Status)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Offer not found", offerID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock offer", err)
	}
	if o.Status != model.OfferStatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Offer is no longer pending", o.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, reason = $2, reason_category = $3, updated_at = NOW()
		WHERE offer_id = $4
	`, status, nullString(reason), nullString(category), offerID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update offer", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit offer update", err)
	}
	o.Status = status
	o.Reason = reason
	o.ReasonCategory = category
	return o, nil
}

// CounterOffer supersedes a pending offer with a new priced offer from the
// other side. The original moves to countered and points at the new chain
// head; both writes commit together.
func (d Datasource) CounterOffer(ctx context.Context, originalOfferID string, counter *model.Offer) (*model.Offer, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var conversationID, senderUUID, status string
	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, sender_uuid, status FROM offers
		WHERE offer_id = $1
		FOR UPDATE
	`, originalOfferID).Scan(&conversationID, &senderUUID, &status)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Offer not found", originalOfferID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock offer", err)
	}
	if status != model.OfferStatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Offer is no longer pending", status)
	}
	if counter.SenderUUID == senderUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Cannot counter your own offer", counter.SenderUUID)
	}

	counter.OfferID = model.GenerateUUIDWithSuffix("off")
	counter.ConversationID = conversationID
	counter.Status = model.OfferStatusPending
	err = tx.QueryRowContext(ctx, `
		INSERT INTO offers (offer_id, conversation_id, sender_uuid, price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, counter.OfferID, counter.ConversationID, counter.SenderUUID, counter.Price, counter.Status).
		Scan(&counter.CreatedAt, &counter.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create counter offer", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, current_offer_id = $2, updated_at = NOW()
		WHERE offer_id = $3
	`, model.OfferStatusCountered, counter.OfferID, originalOfferID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to supersede offer", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit counter offer", err)
	}
	return counter, nil
}
