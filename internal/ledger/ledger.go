package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/models"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

// TransactionRequest describes one signed ledger movement.
type TransactionRequest struct {
	AccountID   string
	Kind        models.TransactionKind
	Amount      models.Credits
	Description string
	// Reference makes the request idempotent per (account, kind, reference).
	Reference *string
}

// Ledger is the authoritative Credit balance keeper. Every balance change
// is a Transaction written in the same unit of work as the balance row.
type Ledger struct {
	store  storage.Store
	logger *utils.Logger
	now    func() time.Time
}

// New creates a Ledger over store.
func New(store storage.Store) *Ledger {
	return &Ledger{
		store:  store,
		logger: utils.NewLogger("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateBalance returns the balance of accountID, creating a zero
// balance on first use.
func (l *Ledger) GetOrCreateBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}

	b, err := l.store.GetBalance(ctx, accountID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrBalanceNotFound) {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	err = l.store.InTx(ctx, func(tx storage.Tx) error {
		b, err = tx.LockBalance(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}
	return b, nil
}

// ApplyTransaction posts req in its own unit of work. Once started the unit
// runs to commit or rollback even if ctx is cancelled.
func (l *Ledger) ApplyTransaction(ctx context.Context, req TransactionRequest) (*models.Transaction, error) {
	var txn *models.Transaction
	ctx = context.WithoutCancel(ctx)
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		txn, err = l.ApplyInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ApplyInTx posts req inside a unit of work owned by the caller.
func (l *Ledger) ApplyInTx(ctx context.Context, tx storage.Tx, req TransactionRequest) (*models.Transaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// The balance lock serializes concurrent deliveries of one reference, so
	// the lookup below sees any entry committed before it.
	b, err := tx.LockBalance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	if req.Reference != nil {
		existing, err := tx.FindTransactionByReference(ctx, req.AccountID, req.Kind, *req.Reference)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrTransactionNotFound) {
			return nil, err
		}
	}

	if b.Frozen {
		return nil, fmt.Errorf("%w: %s", ErrAccountFrozen, req.AccountID)
	}

	after := b.Balance + req.Amount
	if after < 0 && req.Kind != models.TransactionAdminAdjustment {
		return nil, &InsufficientCreditsError{AccountID: req.AccountID, Balance: b.Balance, Required: req.Amount.Neg()}
	}

	now := l.now()
	txn := &models.Transaction{
		ID:            uuid.New(),
		AccountID:     req.AccountID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		BalanceBefore: b.Balance,
		BalanceAfter:  after,
		Description:   req.Description,
		Reference:     req.Reference,
		CreatedAt:     now,
	}
	b.Apply(req.Kind, req.Amount, now)

	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := tx.SaveBalance(ctx, b); err != nil {
		return nil, err
	}
	return txn, nil
}

func validateRequest(req TransactionRequest) error {
	if req.AccountID == "" {
		return ErrInvalidAccount
	}
	if !req.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}

	switch req.Kind {
	case models.TransactionConsumption:
		if req.Amount >= 0 {
			return fmt.Errorf("%w: consumption must be negative, got %s", ErrInvalidAmount, req.Amount)
		}
	case models.TransactionAdminAdjustment:
		if req.Amount == 0 {
			return fmt.Errorf("%w: adjustment cannot be zero", ErrInvalidAmount)
		}
	default:
		if req.Amount <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidAmount, req.Kind, req.Amount)
		}
	}
	return nil
}

// Deposit credits amount to accountID.
func (l *Ledger) Deposit(ctx context.Context, accountID string, amount models.Credits, description string, reference *string) (*models.Transaction, error) {
	return l.ApplyTransaction(ctx, TransactionRequest{
		AccountID:   accountID,
		Kind:        models.TransactionDeposit,
		Amount:      amount,
		Description: description,
		Reference:   reference,
	})
}

// Consume debits amount (given as a positive value) from accountID. The
// pre-check fails fast without opening a unit of work; the authoritative
// check happens under the balance lock.
func (l *Ledger) Consume(ctx context.Context, accountID string, amount models.Credits, description string, reference *string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: consume amount must be positive, got %s", ErrInvalidAmount, amount)
	}

	b, err := l.store.GetBalance(ctx, accountID)
	switch {
	case errors.Is(err, storage.ErrBalanceNotFound):
		return nil, &InsufficientCreditsError{AccountID: accountID, Balance: 0, Required: amount}
	case err != nil:
		return nil, fmt.Errorf("failed to get balance: %w", err)
	case b.Frozen:
		return nil, fmt.Errorf("%w: %s", ErrAccountFrozen, accountID)
	case b.Balance < amount:
		return nil, &InsufficientCreditsError{AccountID: accountID, Balance: b.Balance, Required: amount}
	}

	return l.ApplyTransaction(ctx, TransactionRequest{
		AccountID:   accountID,
		Kind:        models.TransactionConsumption,
		Amount:      amount.Neg(),
		Description: description,
		Reference:   reference,
	})
}

// Refund returns amount to accountID.
func (l *Ledger) Refund(ctx context.Context, accountID string, amount models.Credits, description string, reference *string) (*models.Transaction, error) {
	return l.ApplyTransaction(ctx, TransactionRequest{
		AccountID:   accountID,
		Kind:        models.TransactionRefund,
		Amount:      amount,
		Description: description,
		Reference:   reference,
	})
}

// Bonus grants promotional credits.
func (l *Ledger) Bonus(ctx context.Context, accountID string, amount models.Credits, description string) (*models.Transaction, error) {
	return l.ApplyTransaction(ctx, TransactionRequest{
		AccountID:   accountID,
		Kind:        models.TransactionBonus,
		Amount:      amount,
		Description: description,
	})
}

// Adjust posts a signed admin correction. It is the only movement allowed
// to take a balance below zero.
func (l *Ledger) Adjust(ctx context.Context, accountID string, amount models.Credits, description string) (*models.Transaction, error) {
	return l.ApplyTransaction(ctx, TransactionRequest{
		AccountID:   accountID,
		Kind:        models.TransactionAdminAdjustment,
		Amount:      amount,
		Description: description,
	})
}

// Transfer moves amount from one account to another in a single unit of
// work. The sender is debited as consumption and the recipient credited as a
// deposit; both entries share a transfer reference.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount models.Credits, description string) (debit, credit *models.Transaction, err error) {
	if from == to {
		return nil, nil, fmt.Errorf("cannot transfer to the same account")
	}
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: transfer amount must be positive, got %s", ErrInvalidAmount, amount)
	}

	ref := "transfer:" + uuid.NewString()
	if description == "" {
		description = "Transfer"
	}

	ctx = context.WithoutCancel(ctx)
	err = l.store.InTx(ctx, func(tx storage.Tx) error {
		// Lock both balances in a fixed order so opposing transfers cannot deadlock.
		if err := LockAccounts(ctx, tx, from, to); err != nil {
			return err
		}

		var err error
		debit, err = l.ApplyInTx(ctx, tx, TransactionRequest{
			AccountID:   from,
			Kind:        models.TransactionConsumption,
			Amount:      amount.Neg(),
			Description: fmt.Sprintf("%s to %s", description, to),
			Reference:   &ref,
		})
		if err != nil {
			return err
		}
		credit, err = l.ApplyInTx(ctx, tx, TransactionRequest{
			AccountID:   to,
			Kind:        models.TransactionDeposit,
			Amount:      amount,
			Description: fmt.Sprintf("%s from %s", description, from),
			Reference:   &ref,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// LockAccounts takes the balance locks of every account in sorted id order.
func LockAccounts(ctx context.Context, tx storage.Tx, accountIDs ...string) error {
	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		if _, err := tx.LockBalance(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CalculateCost prices a call against pricing.
func (l *Ledger) CalculateCost(pricing *models.ModelPricing, inputTokens, outputTokens int, hasImage bool) models.Credits {
	return pricing.CalculateCost(inputTokens, outputTokens, hasImage)
}

// History returns a page of accountID's transactions, newest first.
func (l *Ledger) History(ctx context.Context, accountID string, filter models.TransactionFilter) (*models.TransactionPage, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}
	if filter.Kind != nil && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, *filter.Kind)
	}
	return l.store.ListTransactions(ctx, accountID, filter)
}

// Verify checks that the balance of accountID equals both the fold of its
// transactions and its lifetime counters. On mismatch the account is frozen
// and an *InvariantViolationError returned; the balance is left untouched.
func (l *Ledger) Verify(ctx context.Context, accountID string) error {
	var violation *InvariantViolationError

	ctx = context.WithoutCancel(ctx)
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		b, err := tx.LockBalance(ctx, accountID)
		if err != nil {
			return err
		}
		fold, _, err := tx.SumTransactions(ctx, accountID)
		if err != nil {
			return err
		}
		if fold == b.Balance && b.LifetimeNet() == b.Balance {
			return nil
		}

		violation = &InvariantViolationError{
			AccountID: accountID,
			Balance:   b.Balance,
			Fold:      fold,
			Lifetime:  b.LifetimeNet(),
		}
		if !b.Frozen {
			b.Frozen = true
			b.UpdatedAt = l.now()
			return tx.SaveBalance(ctx, b)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to verify ledger: %w", err)
	}

	if violation != nil {
		l.logger.Error("Ledger invariant violated, account frozen",
			"account_id", accountID,
			"balance", violation.Balance.String(),
			"transaction_sum", violation.Fold.String(),
			"lifetime_net", violation.Lifetime.String(),
		)
		return violation
	}
	return nil
}

// Unfreeze clears the frozen flag after an operator has reconciled the account.
func (l *Ledger) Unfreeze(ctx context.Context, accountID string) error {
	ctx = context.WithoutCancel(ctx)
	return l.store.InTx(ctx, func(tx storage.Tx) error {
		b, err := tx.LockBalance(ctx, accountID)
		if err != nil {
			return err
		}
		if !b.Frozen {
			return nil
		}
		b.Frozen = false
		b.UpdatedAt = l.now()
		l.logger.Warn("Account unfrozen", "account_id", accountID)
		return tx.SaveBalance(ctx, b)
	})
}
