package ledger

import (
	"errors"
	"fmt"

	"credit_pool/internal/models"
)

var (
	// ErrInsufficientCredits matches every *InsufficientCreditsError.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAccountFrozen is returned for writes to an account frozen by Verify.
	ErrAccountFrozen = errors.New("account frozen")

	// ErrInvariantViolation matches every *InvariantViolationError.
	ErrInvariantViolation = errors.New("ledger invariant violated")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidKind    = errors.New("invalid transaction kind")
	ErrInvalidAccount = errors.New("account id required")
)

// InsufficientCreditsError reports a debit the account cannot cover.
type InsufficientCreditsError struct {
	AccountID string
	Balance   models.Credits
	Required  models.Credits
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: balance %s, required %s", e.AccountID, e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// InvariantViolationError reports a balance that no longer equals the fold
// of its transactions.
type InvariantViolationError struct {
	AccountID string
	Balance   models.Credits
	Fold      models.Credits
	Lifetime  models.Credits
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated for %s: balance %s, transaction sum %s, lifetime net %s",
		e.AccountID, e.Balance, e.Fold, e.Lifetime)
}

func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}
