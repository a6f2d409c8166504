package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of minor units per major unit, as a
// power of ten. Amounts are always stored in minor units.
const MinorUnitExponent = -2

// FormatMinor renders a minor-unit amount as a fixed-point display string.
func FormatMinor(amount int64) string {
	return decimal.New(amount, MinorUnitExponent).StringFixed(-MinorUnitExponent)
}

// CreateAccountRequest is the DTO for account creation.
type CreateAccountRequest struct {
	AccountID string `json:"account_id"`
}

// MutationRequest carries a single-account amount and idempotency key.
type MutationRequest struct {
	Amount      int64  `json:"amount"`
	RequestID   string `json:"request_id,omitempty"`
	RequestTime string `json:"request_time,omitempty"`
}

// TransferRequest is the DTO for incoming transfer requests.
type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
	RequestID     string `json:"request_id,omitempty"`
	RequestTime   string `json:"request_time,omitempty"`
}

// ClosePendingRequest finalises an open pending transaction.
type ClosePendingRequest struct {
	Status      TxStatus `json:"status"`
	RequestID   string   `json:"request_id,omitempty"`
	RequestTime string   `json:"request_time,omitempty"`
}

// BalanceChange is returned by every single-account mutation.
type BalanceChange struct {
	AccountID        string   `json:"account_id"`
	OldBalance       int64    `json:"old_balance"`
	NewBalance       int64    `json:"new_balance"`
	AvailableBalance int64    `json:"available_balance"`
	Amount           int64    `json:"amount"`
	Status           TxStatus `json:"status"`
	Key              string   `json:"key"`
}

// TransferResult is the canonical response for a transfer.
type TransferResult struct {
	FromAccountID string        `json:"from_account_id"`
	ToAccountID   string        `json:"to_account_id"`
	Amount        int64         `json:"amount"`
	Key           string        `json:"key"`
	From          BalanceChange `json:"from"`
	To            BalanceChange `json:"to"`
}

// BalanceView is the read model for a single account.
type BalanceView struct {
	AccountID        string         `json:"account_id"`
	Balance          int64          `json:"balance"`
	AvailableBalance int64          `json:"available_balance"`
	BalanceDisplay   string         `json:"balance_display"`
	PendingTxs       []TxDescriptor `json:"pending_txs"`
	CreatedAt        time.Time      `json:"created_at"`
}
