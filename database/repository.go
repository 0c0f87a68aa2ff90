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
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/model"
)

// IDataSource groups the storage contracts the lifecycle code depends on.
// Every method that mutates state is one atomic unit: it acquires its row
// locks up front, checks invariants, and writes transaction/timeline rows
// together with the balance or status change.
type IDataSource interface {
	wallet
	payment
	offer
	conversation
	job
	readState
}

type wallet interface {
	GetOrCreateWallet(ctx context.Context, userUUID, userType, currency string) (*model.Wallet, error)
	GetWalletByUser(ctx context.Context, userUUID, userType string) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error)
	CreditWallet(ctx context.Context, walletID string, amount decimal.Decimal, remark string, locked bool, jobID, paymentID string) (*model.Transaction, error)
	DebitWallet(ctx context.Context, walletID string, amount decimal.Decimal, remark, jobID string) (*model.Transaction, error)
	InitiateWithdrawal(ctx context.Context, walletID string, amount decimal.Decimal, remark string) (*model.Transaction, error)
	SettleDueLocks(ctx context.Context, now time.Time, window time.Duration) (int64, error)
	GetWalletTransactions(ctx context.Context, walletID string, limit int, offset int64) ([]*model.Transaction, error)
	GetTransactionByID(ctx context.Context, transactionID string) (*model.Transaction, error)
	GetTransactionByRef(ctx context.Context, reference string) (*model.Transaction, error)
	MarkTransactionStatus(ctx context.Context, transactionID, status string) error
	ReverseTransferDebit(ctx context.Context, transactionID, remark string) (*model.Transaction, error)
}

type payment interface {
	CreatePayment(ctx context.Context, p *model.Payment) (*model.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	BeginChargeProcessing(ctx context.Context, reference string, verifiedAmount decimal.Decimal) (*model.Payment, ChargeState, error)
	FinalizeWalletFunding(ctx context.Context, p *model.Payment, walletID string) (*model.Transaction, error)
	FinalizeOfferPayment(ctx context.Context, p *model.Payment, code, requestID string, chances int) (*model.Job, *model.Offer, *model.Conversation, error)
	MarkPaymentFailed(ctx context.Context, paymentID, reason string) error
	GetStuckPayments(ctx context.Context, olderThan time.Time) ([]model.Payment, error)
}

type offer interface {
	CreateOffer(ctx context.Context, o *model.Offer) (*model.Offer, error)
	GetOffer(ctx context.Context, offerID string) (*model.Offer, error)
	UpdateOfferStatusWithReason(ctx context.Context, offerID, status, reason, category string) (*model.Offer, error)
	CounterOffer(ctx context.Context, originalOfferID string, counter *model.Offer) (*model.Offer, error)
}

type conversation interface {
	CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	SetConversationLocked(ctx context.Context, conversationID string, locked bool) error
	CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error)
}

type job interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	StartJob(ctx context.Context, jobID, actorUUID string) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID, actorUUID, providerWalletID string) (*model.Job, *model.Transaction, error)
	CancelJob(ctx context.Context, jobID, actorUUID, requestorWalletID, reason, category string) (*model.Job, *model.Transaction, error)
	DisputeJob(ctx context.Context, jobID, actorUUID, reason string) (*model.Job, *model.JobDispute, error)
	AttachReview(ctx context.Context, jobID, actorUUID string, rating int, comment string, tip decimal.Decimal, requestorWalletID, providerWalletID string) (*model.Job, *model.JobReview, error)
	CreateJobReport(ctx context.Context, r *model.JobReport) (*model.JobReport, error)
	GetJobTimeline(ctx context.Context, jobID string) ([]model.JobTimeline, error)
}

type readState interface {
	MarkMessageRead(ctx context.Context, messageID, userUUID string) (bool, error)
	BulkMarkConversationRead(ctx context.Context, conversationID, userUUID string) ([]string, error)
	TotalUnread(ctx context.Context, userUUID string) (int, error)
}
