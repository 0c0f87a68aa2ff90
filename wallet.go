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
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/internal/gateway"
	"github.com/fundihq/fundi/model"
)

// GetWallet returns the caller's wallet for the given role, creating it on
// first touch.
func (f *Fundi) GetWallet(ctx context.Context, userUUID, userType string) (*model.Wallet, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return f.datasource.GetOrCreateWallet(ctx, userUUID, userType, conf.Ledger.Currency)
}

// WalletTransactions lists the caller's ledger history, newest first.
func (f *Fundi) WalletTransactions(ctx context.Context, userUUID, userType string, limit int, offset int64) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	wallet, err := f.GetWallet(ctx, userUUID, userType)
	if err != nil {
		return nil, err
	}
	return f.datasource.GetWalletTransactions(ctx, wallet.WalletID, limit, offset)
}

// InitiateWalletFunding records a pending fund_wallet payment intent and
// returns it with the reference the client passes to the provider checkout.
// The wallet is credited only when the charge webhook lands and verifies.
func (f *Fundi) InitiateWalletFunding(ctx context.Context, userUUID, userType string, amount decimal.Decimal) (*model.Payment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Funding amount must be positive", amount.String())
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if _, err := f.datasource.GetOrCreateWallet(ctx, userUUID, userType, conf.Ledger.Currency); err != nil {
		return nil, err
	}

	return f.datasource.CreatePayment(ctx, &model.Payment{
		Reference: model.GenerateUUIDWithSuffix("ref"),
		UserUUID:  userUUID,
		UserType:  userType,
		Amount:    amount,
		Currency:  conf.Ledger.Currency,
		Purpose:   model.PaymentPurposeFundWallet,
	})
}

// Withdraw debits the wallet and initiates an external transfer to the user's
// registered payout recipient. The debit stays pending until a transfer
// webhook settles it; a transfer that cannot even be initiated is reversed
// immediately.
func (f *Fundi) Withdraw(ctx context.Context, userUUID, userType string, amount decimal.Decimal, recipientCode string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Initiating withdrawal")
	defer span.End()

	if recipientCode == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Recipient code is required", nil)
	}

	wallet, err := f.GetWallet(ctx, userUUID, userType)
	if err != nil {
		return nil, err
	}

	txn, err := f.datasource.InitiateWithdrawal(ctx, wallet.WalletID, amount, "withdrawal")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("Withdrawal debited", trace.WithAttributes(attribute.String("transaction.id", txn.TransactionID)))

	_, err = f.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		RecipientCode: recipientCode,
		Amount:        amount,
		Reference:     txn.Reference,
		Reason:        "wallet withdrawal",
	})
	if err != nil {
		if _, reverseErr := f.datasource.ReverseTransferDebit(ctx, txn.TransactionID, "transfer initiation failed"); reverseErr != nil {
			logrus.Errorf("failed to reverse withdrawal %s: %v", txn.TransactionID, reverseErr)
		}
		return nil, apierror.NewAPIError(apierror.ErrExternal, "Transfer could not be initiated", err)
	}
	return txn, nil
}

// SettleMaturedLocks releases every locked credit past the configured
// maturation window. Runs from the scheduled settlement sweep.
func (f *Fundi) SettleMaturedLocks(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Settling matured locks")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	window := time.Duration(conf.Ledger.MaturationHours) * time.Hour
	released, err := f.datasource.SettleDueLocks(ctx, time.Now(), window)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logrus.Infof("settlement sweep released %d locked transactions", released)
	}
	return released, nil
}
