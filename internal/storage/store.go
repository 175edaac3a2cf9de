package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/models"
)

// Maintained is implemented by stores that keep a connection pool and a read
// cache. The service sweep trims the cache and admins read the counters.
type Maintained interface {
	Stats() DBStats
	CleanupExpiredCacheEntries() int
}

// Store persists balances, ledger entries, pooled resources, deposits,
// usage records and pricing. Writes that must land together go through InTx.
type Store interface {
	// InTx runs fn as one unit of work. If fn returns an error nothing it
	// wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetBalance(ctx context.Context, accountID string) (*models.AccountBalance, error)
	ListBalances(ctx context.Context) ([]*models.AccountBalance, error)
	ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) (*models.TransactionPage, error)

	GetResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error)
	ListResources(ctx context.Context, filter models.ResourceFilter) ([]*models.PooledResource, error)

	GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	ListDeposits(ctx context.Context, filter DepositFilter) ([]*models.Deposit, error)

	ListUsageRecords(ctx context.Context, filter UsageFilter) ([]*models.UsagePoolRecord, error)
	// ListUnpaidReleases returns usage records created before the cutoff
	// whose earn-out release has no ledger deposit yet. Owners with frozen
	// balances are skipped. Oldest first.
	ListUnpaidReleases(ctx context.Context, before time.Time, limit int) ([]*models.UsagePoolRecord, error)
	PoolStats(ctx context.Context) (*models.PoolStats, error)
	RoutingStats(ctx context.Context, since time.Time) (*models.RoutingStats, error)

	GetPricing(ctx context.Context, modelID string) (*models.ModelPricing, error)
	ListPricing(ctx context.Context, activeOnly bool) ([]*models.ModelPricing, error)
	UpsertPricing(ctx context.Context, rows []*models.ModelPricing) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side of a unit of work. Rows returned by the Lock methods
// stay locked until the unit commits or rolls back.
type Tx interface {
	// LockBalance returns the balance row for accountID, creating an empty
	// one on first use.
	LockBalance(ctx context.Context, accountID string) (*models.AccountBalance, error)
	SaveBalance(ctx context.Context, balance *models.AccountBalance) error
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransactionByReference(ctx context.Context, accountID string, kind models.TransactionKind, reference string) (*models.Transaction, error)
	// SumTransactions folds every ledger entry of accountID.
	SumTransactions(ctx context.Context, accountID string) (models.Credits, int, error)

	LockResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error)
	InsertResource(ctx context.Context, resource *models.PooledResource) error
	SaveResource(ctx context.Context, resource *models.PooledResource) error
	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)

	InsertDeposit(ctx context.Context, deposit *models.Deposit) error
	LockDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	// DepositStatus reads a deposit's status without locking it.
	DepositStatus(ctx context.Context, id uuid.UUID) (models.DepositStatus, error)
	SaveDeposit(ctx context.Context, deposit *models.Deposit) error

	InsertUsageRecord(ctx context.Context, record *models.UsagePoolRecord) error
}

// DepositFilter narrows deposit listings. Zero values match everything.
type DepositFilter struct {
	AccountID *string
	Status    *models.DepositStatus
	Limit     int
}

// Matches reports whether d passes the filter.
func (f DepositFilter) Matches(d *models.Deposit) bool {
	if f.AccountID != nil && d.AccountID != *f.AccountID {
		return false
	}
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	return true
}

// UsageFilter narrows usage record listings.
type UsageFilter struct {
	ConsumerID *string
	OwnerID    *string
	ResourceID *uuid.UUID
	Since      *time.Time
	Limit      int
}

// Matches reports whether r passes the filter.
func (f UsageFilter) Matches(r *models.UsagePoolRecord) bool {
	if f.ConsumerID != nil && r.ConsumerID != *f.ConsumerID {
		return false
	}
	if f.OwnerID != nil && r.OwnerID != *f.OwnerID {
		return false
	}
	if f.ResourceID != nil && r.ResourceID != *f.ResourceID {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}
