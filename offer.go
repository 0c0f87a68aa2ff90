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

package fundi

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// SendOffer creates a pending offer in a conversation and announces it.
func (f *Fundi) SendOffer(ctx context.Context, conversationID, senderUUID string, price decimal.Decimal) (*model.Offer, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Offer price must be positive", price.String())
	}

	offer, err := f.datasource.CreateOffer(ctx, &model.Offer{
		ConversationID: conversationID,
		SenderUUID:     senderUUID,
		Price:          price,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := f.datasource.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	event := model.NewEvent(model.EventOfferCreated, offer)
	event.ConversationUUID = conversationID
	event.UserUUIDs = []string{conversation.Counterparty(senderUUID)}
	event.ExcludeUUID = senderUUID
	event.Push = true
	f.publish(ctx, event)

	return offer, nil
}

// DeclineOffer rejects a pending offer. Only the counterparty declines; the
// sender cancels instead.
func (f *Fundi) DeclineOffer(ctx context.Context, offerID, actorUUID, reason, category string) (*model.Offer, error) {
	offer, err := f.datasource.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	conversation, err := f.datasource.GetConversation(ctx, offer.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.Participant(actorUUID) {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Not a conversation participant", actorUUID)
	}
	if actorUUID == offer.SenderUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Sender cannot decline own offer", actorUUID)
	}

	updated, err := f.datasource.UpdateOfferStatusWithReason(ctx, offerID, model.OfferStatusDeclined, reason, category)
	if err != nil {
		return nil, err
	}

	event := model.NewEvent(model.EventOfferUpdated, updated)
	event.ConversationUUID = offer.ConversationID
	event.UserUUIDs = []string{offer.SenderUUID}
	event.ExcludeUUID = actorUUID
	event.Push = true
	f.publish(ctx, event)

	return updated, nil
}

// CancelOffer withdraws a pending offer. Only the sender cancels.
func (f *Fundi) CancelOffer(ctx context.Context, offerID, actorUUID string) (*model.Offer, error) {
	offer, err := f.datasource.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if actorUUID != offer.SenderUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the sender can cancel an offer", actorUUID)
	}

	updated, err := f.datasource.UpdateOfferStatusWithReason(ctx, offerID, model.OfferStatusCancelled, "", "")
	if err != nil {
		return nil, err
	}

	conversation, err := f.datasource.GetConversation(ctx, offer.ConversationID)
	if err != nil {
		return nil, err
	}

	event := model.NewEvent(model.EventOfferUpdated, updated)
	event.ConversationUUID = offer.ConversationID
	event.UserUUIDs = []string{conversation.Counterparty(actorUUID)}
	event.ExcludeUUID = actorUUID
	f.publish(ctx, event)

	return updated, nil
}

// CounterOffer supersedes a pending offer with a new price from the other
// side and announces the new chain head.
func (f *Fundi) CounterOffer(ctx context.Context, offerID, senderUUID string, price decimal.Decimal) (*model.Offer, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Offer price must be positive", price.String())
	}

	counter, err := f.datasource.CounterOffer(ctx, offerID, &model.Offer{
		SenderUUID: senderUUID,
		Price:      price,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := f.datasource.GetConversation(ctx, counter.ConversationID)
	if err != nil {
		return nil, err
	}

	event := model.NewEvent(model.EventOfferCountered, counter)
	event.ConversationUUID = counter.ConversationID
	event.UserUUIDs = []string{conversation.Counterparty(senderUUID)}
	event.ExcludeUUID = senderUUID
	event.Push = true
	f.publish(ctx, event)

	return counter, nil
}

// GetOfferChainHead resolves the newest offer in a negotiation thread.
func (f *Fundi) GetOfferChainHead(ctx context.Context, offerID string) (*model.Offer, error) {
	offer, err := f.datasource.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	head, err := offer.ChainHead(func(id string) (*model.Offer, error) {
		return f.datasource.GetOffer(ctx, id)
	})
	if err == model.ErrOfferChainCycle {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Offer chain is corrupted", offerID)
	}
	return head, err
}

// InitiateOfferPayment records a pending job_offer payment for the chain head
// of a negotiation. Only the requestor pays, only for a pending head, and the
// amount is pinned to the offer price at initiation.
func (f *Fundi) InitiateOfferPayment(ctx context.Context, offerID, payerUUID string) (*model.Payment, error) {
	head, err := f.GetOfferChainHead(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if head.Status != model.OfferStatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Offer is no longer pending", head.Status)
	}

	conversation, err := f.datasource.GetConversation(ctx, head.ConversationID)
	if err != nil {
		return nil, err
	}
	if payerUUID != conversation.RequestorUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Only the requestor can pay for an offer", payerUUID)
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	return f.datasource.CreatePayment(ctx, &model.Payment{
		Reference: model.GenerateUUIDWithSuffix("ref"),
		UserUUID:  payerUUID,
		UserType:  model.UserTypeRequestor,
		Amount:    head.Price,
		Currency:  conf.Ledger.Currency,
		Purpose:   model.PaymentPurposeJobOffer,
		OfferID:   head.OfferID,
	})
}
