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
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/database"
	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/internal/gateway"
	"github.com/fundihq/fundi/model"
)

var tracer = otel.Tracer("fundi.core")

// VerifyWebhookSignature checks the provider's HMAC-SHA512 signature over the
// raw body bytes. Comparison is constant time.
func VerifyWebhookSignature(raw []byte, signature, secret string) bool {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook is the single entry point for provider webhooks. The body's
// success claim is never trusted: charges are re-verified against the gateway
// before any row lock is taken, then claimed and finalized idempotently.
// Unknown event kinds are acknowledged and ignored so the provider stops
// retrying them.
func (f *Fundi) HandleWebhook(ctx context.Context, raw []byte, signature string) error {
	ctx, span := tracer.Start(ctx, "Handling provider webhook")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if !VerifyWebhookSignature(raw, signature, conf.Gateway.WebhookSecret) {
		return apierror.NewAPIError(apierror.ErrIntegrity, "Webhook signature mismatch", nil)
	}

	event, err := model.ParseWebhookEvent(raw)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Malformed webhook payload", err)
	}

	switch e := event.(type) {
	case *model.ChargeEvent:
		span.AddEvent("Charge notification", trace.WithAttributes(attribute.String("payment.reference", e.Reference)))
		return f.handleChargeSuccess(ctx, e)
	case *model.TransferEvent:
		span.AddEvent("Transfer notification", trace.WithAttributes(attribute.String("transfer.reference", e.Reference)))
		return f.handleTransfer(ctx, e)
	case *model.UnknownEvent:
		logrus.Infof("ignoring webhook event %q", e.Event)
		return nil
	default:
		return nil
	}
}

// handleChargeSuccess drives a charge.success notification through
// verify-then-lock-then-mutate. The gateway call happens before the payment
// row is locked so a slow provider cannot stall the payments table.
func (f *Fundi) handleChargeSuccess(ctx context.Context, charge *model.ChargeEvent) error {
	verified, err := f.gateway.VerifyTransaction(ctx, charge.Reference)
	if err != nil {
		if errors.Is(err, gateway.ErrVerifyTimeout) {
			// Not yet verifiable. Fail the delivery so the provider retries.
			return apierror.NewAPIError(apierror.ErrExternal, "Gateway verification timed out", charge.Reference)
		}
		return apierror.NewAPIError(apierror.ErrExternal, "Gateway verification failed", err)
	}

	if !verified.Succeeded() {
		if !verified.Failed() {
			// Non-terminal status. Fail the delivery so the provider retries;
			// the charge may still settle.
			return apierror.NewAPIError(apierror.ErrExternal, "Charge not yet settled with gateway", verified.Status)
		}
		payment, err := f.datasource.GetPaymentByReference(ctx, charge.Reference)
		if err != nil {
			return err
		}
		if err := f.datasource.MarkPaymentFailed(ctx, payment.PaymentID, "gateway reports "+verified.Status); err != nil {
			if apierror.Is(err, apierror.ErrConflict) {
				return nil
			}
			return err
		}
		return nil
	}

	payment, state, err := f.datasource.BeginChargeProcessing(ctx, charge.Reference, verified.Amount)
	switch state {
	case database.ChargeReplay:
		if err != nil {
			return err
		}
		logrus.Infof("charge %s already settled, acknowledging replay", charge.Reference)
		return nil
	case database.ChargeAmountMismatch:
		logrus.Errorf("charge %s amount does not match verified amount, payment marked failed", charge.Reference)
		return err
	}
	if err != nil {
		return err
	}

	return f.finalizePayment(ctx, payment)
}

// finalizePayment moves funds for a claimed payment according to its purpose.
func (f *Fundi) finalizePayment(ctx context.Context, payment *model.Payment) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	switch payment.Purpose {
	case model.PaymentPurposeFundWallet:
		wallet, err := f.datasource.GetOrCreateWallet(ctx, payment.UserUUID, payment.UserType, conf.Ledger.Currency)
		if err != nil {
			return err
		}
		if _, err := f.datasource.FinalizeWalletFunding(ctx, payment, wallet.WalletID); err != nil {
			return err
		}

		event := model.NewEvent(model.EventInboxBadge, map[string]string{
			"payment_id": payment.PaymentID,
			"status":     payment.Status,
		})
		event.UserUUIDs = []string{payment.UserUUID}
		f.publish(ctx, event)
		return nil

	case model.PaymentPurposeJobOffer:
		code, err := model.GeneratePinCode()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to generate confirmation code", err)
		}
		job, offer, conversation, err := f.datasource.FinalizeOfferPayment(ctx, payment, code,
			model.GenerateRequestID(), conf.Conversation.CancellationChances)
		if err != nil {
			return err
		}

		sanitized := *job
		sanitized.Code = ""

		jobEvent := model.NewEvent(model.EventJobCreated, &sanitized)
		jobEvent.ConversationUUID = job.ConversationID
		jobEvent.UserUUIDs = []string{job.RequestorUUID, job.ProviderUUID}
		jobEvent.Push = true
		f.publish(ctx, jobEvent)

		offerEvent := model.NewEvent(model.EventOfferUpdated, offer)
		offerEvent.ConversationUUID = job.ConversationID
		f.publish(ctx, offerEvent)

		conversationEvent := model.NewEvent(model.EventConversationUpdated, conversation)
		conversationEvent.ConversationUUID = job.ConversationID
		f.publish(ctx, conversationEvent)
		return nil

	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "Unknown payment purpose", payment.Purpose)
	}
}

// handleTransfer settles or reverses a withdrawal debit based on the transfer
// outcome. Replays conflict on the status guard and are acknowledged.
func (f *Fundi) handleTransfer(ctx context.Context, transfer *model.TransferEvent) error {
	txn, err := f.datasource.GetTransactionByRef(ctx, transfer.Reference)
	if err != nil {
		return err
	}

	switch transfer.Kind {
	case model.WebhookTransferSuccess:
		if err := f.datasource.MarkTransactionStatus(ctx, txn.TransactionID, model.TransactionStatusSuccess); err != nil {
			if apierror.Is(err, apierror.ErrConflict) {
				return nil
			}
			return err
		}
		return nil
	case model.WebhookTransferFailed, model.WebhookTransferReversed:
		if _, err := f.datasource.ReverseTransferDebit(ctx, txn.TransactionID, "transfer "+transfer.Kind); err != nil {
			if apierror.Is(err, apierror.ErrConflict) {
				return nil
			}
			return err
		}
		return nil
	default:
		return nil
	}
}

// SweepStuckPayments re-drives payments stuck in processing past the
// configured threshold. A processing payment was already verified and
// claimed, so the sweep goes straight to finalization; a gateway hiccup skips
// the payment until the next run.
func (f *Fundi) SweepStuckPayments(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweeping stuck payments")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-time.Duration(conf.Reconciliation.StuckAfterMin) * time.Minute)
	stuck, err := f.datasource.GetStuckPayments(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stuck {
		payment := stuck[i]
		if err := f.finalizePayment(ctx, &payment); err != nil {
			span.RecordError(err)
			logrus.Errorf("stuck payment %s not recovered: %v", payment.PaymentID, err)
			continue
		}
		logrus.Infof("recovered stuck payment %s", payment.PaymentID)
		recovered++
	}
	return recovered, nil
}
