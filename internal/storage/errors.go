package storage

import "errors"

var (
	// ErrBalanceNotFound is returned when an account has never been credited
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrTransactionNotFound is returned when no ledger entry matches a lookup
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrResourceNotFound is returned when a pooled resource does not exist
	ErrResourceNotFound = errors.New("resource not found")

	// ErrDepositNotFound is returned when a deposit does not exist
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrPricingNotFound is returned when a model has no pricing row
	ErrPricingNotFound = errors.New("pricing not found")

	// ErrDuplicateFingerprint is returned when a credential is already pooled
	ErrDuplicateFingerprint = errors.New("credential already pooled")

	// ErrDuplicateReference is returned when a ledger entry with the same
	// account, kind and reference already exists
	ErrDuplicateReference = errors.New("ledger reference already posted")
)
