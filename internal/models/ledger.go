package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind enumerates the ledger transaction types.
type TransactionKind string

const (
	TransactionDeposit         TransactionKind = "deposit"
	TransactionConsumption     TransactionKind = "consumption"
	TransactionRefund          TransactionKind = "refund"
	TransactionBonus           TransactionKind = "bonus"
	TransactionAdminAdjustment TransactionKind = "admin_adjustment"
)

// IsValid reports whether k is a known transaction kind.
func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionDeposit, TransactionConsumption, TransactionRefund,
		TransactionBonus, TransactionAdminAdjustment:
		return true
	default:
		return false
	}
}

// AccountBalance is the cached balance of one principal.
// Balance always equals the sum of the account's transaction amounts.
type AccountBalance struct {
	AccountID         string    `db:"account_id" json:"account_id"`
	Balance           Credits   `db:"balance" json:"balance"`
	LifetimeDeposited Credits   `db:"lifetime_deposited" json:"lifetime_deposited"`
	LifetimeConsumed  Credits   `db:"lifetime_consumed" json:"lifetime_consumed"`
	LifetimeRefunded  Credits   `db:"lifetime_refunded" json:"lifetime_refunded"`
	LifetimeBonus     Credits   `db:"lifetime_bonus" json:"lifetime_bonus"`
	LifetimeAdjusted  Credits   `db:"lifetime_adjusted" json:"lifetime_adjusted"`
	Frozen            bool      `db:"frozen" json:"frozen"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// NewAccountBalance returns a zero balance for accountID.
func NewAccountBalance(accountID string, now time.Time) *AccountBalance {
	return &AccountBalance{
		AccountID: accountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply folds one transaction amount into the balance and its lifetime totals.
// Consumption is tracked as a positive lifetime figure.
func (b *AccountBalance) Apply(kind TransactionKind, amount Credits, now time.Time) {
	b.Balance += amount
	switch kind {
	case TransactionDeposit:
		b.LifetimeDeposited += amount
	case TransactionConsumption:
		b.LifetimeConsumed -= amount
	case TransactionRefund:
		b.LifetimeRefunded += amount
	case TransactionBonus:
		b.LifetimeBonus += amount
	case TransactionAdminAdjustment:
		b.LifetimeAdjusted += amount
	}
	b.UpdatedAt = now
}

// LifetimeNet is the balance implied by the lifetime totals.
func (b *AccountBalance) LifetimeNet() Credits {
	return b.LifetimeDeposited - b.LifetimeConsumed + b.LifetimeRefunded + b.LifetimeBonus + b.LifetimeAdjusted
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AccountID     string          `db:"account_id" json:"account_id"`
	Kind          TransactionKind `db:"kind" json:"kind"`
	Amount        Credits         `db:"amount" json:"amount"`
	BalanceBefore Credits         `db:"balance_before" json:"balance_before"`
	BalanceAfter  Credits         `db:"balance_after" json:"balance_after"`
	Description   string          `db:"description" json:"description"`
	Reference     *string         `db:"reference" json:"reference,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// TransactionFilter narrows a transaction history query.
type TransactionFilter struct {
	Kind     *TransactionKind
	Page     int
	PageSize int
}

// TransactionPage is one page of an account's transaction history.
type TransactionPage struct {
	Items      []*Transaction `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// Normalize applies default paging: page 1, 20 items, at most 100.
func (f *TransactionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
}

// Offset is the number of rows skipped before the current page.
func (f TransactionFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
