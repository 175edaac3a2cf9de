package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/models"
)

// MemoryStore keeps everything in process memory. Units of work are
// serialized by a single lock and staged, so a failed unit leaves no trace.
// It backs development runs and tests; state is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	balances     map[string]*models.AccountBalance
	transactions map[string][]*models.Transaction
	resources    map[uuid.UUID]*models.PooledResource
	fingerprints map[string]uuid.UUID
	deposits     map[uuid.UUID]*models.Deposit
	usage        []*models.UsagePoolRecord
	pricing      map[string]*models.ModelPricing
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     make(map[string]*models.AccountBalance),
		transactions: make(map[string][]*models.Transaction),
		resources:    make(map[uuid.UUID]*models.PooledResource),
		fingerprints: make(map[string]uuid.UUID),
		deposits:     make(map[uuid.UUID]*models.Deposit),
		pricing:      make(map[string]*models.ModelPricing),
	}
}

// InTx runs fn while holding the store lock. fn must only use tx; calling
// read methods on the store from inside fn deadlocks.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:         s,
		balances:  make(map[string]*models.AccountBalance),
		resources: make(map[uuid.UUID]*models.PooledResource),
		deposits:  make(map[uuid.UUID]*models.Deposit),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[accountID]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	return cloneBalance(b), nil
}

func (s *MemoryStore) ListBalances(ctx context.Context) ([]*models.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AccountBalance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, cloneBalance(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) (*models.TransactionPage, error) {
	filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.transactions[accountID]
	matched := make([]*models.Transaction, 0, len(all))
	// newest first
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Kind != nil && all[i].Kind != *filter.Kind {
			continue
		}
		matched = append(matched, all[i])
	}

	page := &models.TransactionPage{
		Items:      []*models.Transaction{},
		TotalCount: len(matched),
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}
	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := min(start+filter.PageSize, len(matched))
	for _, t := range matched[start:end] {
		c := *t
		page.Items = append(page.Items, &c)
	}
	return page, nil
}

func (s *MemoryStore) GetResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return cloneResource(r), nil
}

func (s *MemoryStore) ListResources(ctx context.Context, filter models.ResourceFilter) ([]*models.PooledResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PooledResource, 0)
	for _, r := range s.resources {
		if filter.Matches(r) {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deposits[id]
	if !ok {
		return nil, ErrDepositNotFound
	}
	c := *d
	return &c, nil
}

func (s *MemoryStore) ListDeposits(ctx context.Context, filter DepositFilter) ([]*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Deposit, 0)
	for _, d := range s.deposits {
		if filter.Matches(d) {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUsageRecords(ctx context.Context, filter UsageFilter) ([]*models.UsagePoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.UsagePoolRecord, 0)
	for i := len(s.usage) - 1; i >= 0; i-- {
		if !filter.Matches(s.usage[i]) {
			continue
		}
		c := *s.usage[i]
		out = append(out, &c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListUnpaidReleases(ctx context.Context, before time.Time, limit int) ([]*models.UsagePoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.UsagePoolRecord, 0)
	for _, rec := range s.usage {
		if rec.Released <= 0 || !rec.CreatedAt.Before(before) {
			continue
		}
		if b, ok := s.balances[rec.OwnerID]; ok && b.Frozen {
			continue
		}
		if s.hasReference(rec.OwnerID, models.TransactionDeposit, models.EarnOutReference(rec.ID)) {
			continue
		}
		c := *rec
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) hasReference(accountID string, kind models.TransactionKind, reference string) bool {
	for _, txn := range s.transactions[accountID] {
		if txn.Kind == kind && txn.Reference != nil && *txn.Reference == reference {
			return true
		}
	}
	return false
}

func (s *MemoryStore) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.PoolStats{}
	contributors := make(map[string]struct{})
	for _, r := range s.resources {
		stats.TotalResources++
		if r.Status == models.ResourceActive {
			stats.ActiveResources++
		}
		if r.OwnerType == models.OwnerTypeUser {
			stats.UserResources++
			contributors[r.OwnerID] = struct{}{}
		} else {
			stats.PlatformResources++
		}
		stats.TotalValue += r.OriginalQuota
		stats.RemainingValue += r.CurrentQuota
		stats.TotalRequests += r.TotalRequests
		stats.TotalConsumed += r.TotalConsumed
		stats.TotalReleased += r.ReleasedCredits
	}
	stats.Contributors = len(contributors)

	for _, d := range s.deposits {
		switch d.Status {
		case models.DepositApproved:
			stats.ApprovedDeposits++
			stats.TotalDeposited += d.CreditsGranted
			stats.PlatformFeeRevenue += d.FeeAmount
		case models.DepositRejected:
			stats.RejectedDeposits++
		}
	}
	for _, u := range s.usage {
		stats.PlatformFeeRevenue += u.ReleaseFee
	}
	return stats, nil
}

func (s *MemoryStore) RoutingStats(ctx context.Context, since time.Time) (*models.RoutingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.RoutingStats{ByProvider: make(map[models.ProviderKind]int64)}
	for _, u := range s.usage {
		if u.CreatedAt.Before(since) {
			continue
		}
		stats.TotalRequests++
		if u.Success {
			stats.SuccessfulRequests++
		}
		stats.QuotaConsumed += u.QuotaConsumed
		stats.CreditsCharged += u.CreditsCharged
		stats.ByProvider[u.Provider]++
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests) * 100
	}
	return stats, nil
}

func (s *MemoryStore) GetPricing(ctx context.Context, modelID string) (*models.ModelPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pricing[modelID]
	if !ok {
		return nil, ErrPricingNotFound
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListPricing(ctx context.Context, activeOnly bool) ([]*models.ModelPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ModelPricing, 0, len(s.pricing))
	for _, p := range s.pricing {
		if activeOnly && !p.IsActive {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

func (s *MemoryStore) UpsertPricing(ctx context.Context, rows []*models.ModelPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range rows {
		c := *p
		s.pricing[p.ModelID] = &c
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memTx stages writes until commit.
type memTx struct {
	s *MemoryStore

	balances     map[string]*models.AccountBalance
	transactions []*models.Transaction
	resources    map[uuid.UUID]*models.PooledResource
	deposits     map[uuid.UUID]*models.Deposit
	usage        []*models.UsagePoolRecord
}

func (t *memTx) LockBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	if b, ok := t.balances[accountID]; ok {
		return cloneBalance(b), nil
	}
	b, ok := t.s.balances[accountID]
	if !ok {
		b = models.NewAccountBalance(accountID, time.Now().UTC())
	}
	t.balances[accountID] = cloneBalance(b)
	return cloneBalance(b), nil
}

func (t *memTx) SaveBalance(ctx context.Context, balance *models.AccountBalance) error {
	t.balances[balance.AccountID] = cloneBalance(balance)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.Reference != nil {
		if _, err := t.FindTransactionByReference(ctx, txn.AccountID, txn.Kind, *txn.Reference); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, *txn.Reference)
		}
	}
	c := *txn
	t.transactions = append(t.transactions, &c)
	return nil
}

func (t *memTx) FindTransactionByReference(ctx context.Context, accountID string, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	match := func(txn *models.Transaction) bool {
		return txn.AccountID == accountID && txn.Kind == kind && txn.Reference != nil && *txn.Reference == reference
	}
	for _, txn := range t.transactions {
		if match(txn) {
			c := *txn
			return &c, nil
		}
	}
	for _, txn := range t.s.transactions[accountID] {
		if match(txn) {
			c := *txn
			return &c, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (t *memTx) SumTransactions(ctx context.Context, accountID string) (models.Credits, int, error) {
	var sum models.Credits
	count := 0
	for _, txn := range t.s.transactions[accountID] {
		sum += txn.Amount
		count++
	}
	for _, txn := range t.transactions {
		if txn.AccountID == accountID {
			sum += txn.Amount
			count++
		}
	}
	return sum, count, nil
}

func (t *memTx) LockResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	if r, ok := t.resources[id]; ok {
		return cloneResource(r), nil
	}
	r, ok := t.s.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return cloneResource(r), nil
}

func (t *memTx) InsertResource(ctx context.Context, resource *models.PooledResource) error {
	if _, ok := t.s.resources[resource.ID]; ok {
		return fmt.Errorf("resource %s already exists", resource.ID)
	}
	if _, ok := t.resources[resource.ID]; ok {
		return fmt.Errorf("resource %s already exists", resource.ID)
	}
	if resource.CredentialFingerprint != "" {
		if exists, _ := t.FingerprintExists(ctx, resource.CredentialFingerprint); exists {
			return ErrDuplicateFingerprint
		}
	}
	t.resources[resource.ID] = cloneResource(resource)
	return nil
}

func (t *memTx) SaveResource(ctx context.Context, resource *models.PooledResource) error {
	if _, ok := t.resources[resource.ID]; !ok {
		if _, ok := t.s.resources[resource.ID]; !ok {
			return ErrResourceNotFound
		}
	}
	t.resources[resource.ID] = cloneResource(resource)
	return nil
}

func (t *memTx) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	if _, ok := t.s.fingerprints[fingerprint]; ok {
		return true, nil
	}
	for _, r := range t.resources {
		if r.CredentialFingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertDeposit(ctx context.Context, deposit *models.Deposit) error {
	if _, ok := t.s.deposits[deposit.ID]; ok {
		return fmt.Errorf("deposit %s already exists", deposit.ID)
	}
	c := *deposit
	t.deposits[deposit.ID] = &c
	return nil
}

func (t *memTx) LockDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	d, ok := t.deposits[id]
	if !ok {
		d, ok = t.s.deposits[id]
	}
	if !ok {
		return nil, ErrDepositNotFound
	}
	c := *d
	return &c, nil
}

func (t *memTx) DepositStatus(ctx context.Context, id uuid.UUID) (models.DepositStatus, error) {
	d, err := t.LockDeposit(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

func (t *memTx) SaveDeposit(ctx context.Context, deposit *models.Deposit) error {
	if _, ok := t.deposits[deposit.ID]; !ok {
		if _, ok := t.s.deposits[deposit.ID]; !ok {
			return ErrDepositNotFound
		}
	}
	c := *deposit
	t.deposits[deposit.ID] = &c
	return nil
}

func (t *memTx) InsertUsageRecord(ctx context.Context, record *models.UsagePoolRecord) error {
	c := *record
	t.usage = append(t.usage, &c)
	return nil
}

func (t *memTx) commit() {
	s := t.s
	for id, b := range t.balances {
		s.balances[id] = b
	}
	for _, txn := range t.transactions {
		s.transactions[txn.AccountID] = append(s.transactions[txn.AccountID], txn)
	}
	for id, r := range t.resources {
		s.resources[id] = r
		if r.CredentialFingerprint != "" {
			s.fingerprints[r.CredentialFingerprint] = id
		}
	}
	for id, d := range t.deposits {
		s.deposits[id] = d
	}
	s.usage = append(s.usage, t.usage...)
}

func cloneBalance(b *models.AccountBalance) *models.AccountBalance {
	c := *b
	return &c
}

func cloneResource(r *models.PooledResource) *models.PooledResource {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}
