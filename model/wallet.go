package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"

	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// Wallet is the per (user, user-role) ledger account. TotalBalance includes
// locked funds; AvailableBalance is what the owner can spend or withdraw.
// AvailableBalance never exceeds TotalBalance except inside the settlement
// window of a locked credit that has not matured yet.
type Wallet struct {
	ID               int64           `json:"-"`
	WalletID         string          `json:"wallet_id"`
	UserUUID         string          `json:"user_uuid"`
	UserType         string          `json:"user_type"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Currency         string          `json:"currency"`
	CreatedAt        time.Time       `json:"created_at"`
	DeletedAt        *time.Time      `json:"-"`
}

// Transaction is an immutable ledger movement. Every balance change writes
// exactly one Transaction row in the same atomic unit. A locked credit raises
// TotalBalance immediately and AvailableBalance only once released.
type Transaction struct {
	ID            int64           `json:"-"`
	TransactionID string          `json:"transaction_id"`
	WalletID      string          `json:"wallet_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Remark        string          `json:"remark"`
	JobID         string          `json:"job_id,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Status        string          `json:"status"`
	Locked        bool            `json:"locked"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Matured reports whether a locked transaction is past its maturation window
// and still unreleased.
func (t *Transaction) Matured(now time.Time, window time.Duration) bool {
	if !t.Locked || t.ReleasedAt != nil || t.LockedAt == nil {
		return false
	}
	return !t.LockedAt.Add(window).After(now)
}
