package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"credit_pool/internal/models"
	"credit_pool/internal/utils"
)

const (
	balanceColumns = `account_id, balance, lifetime_deposited, lifetime_consumed, lifetime_refunded,
		lifetime_bonus, lifetime_adjusted, frozen, created_at, updated_at`

	transactionColumns = `id, account_id, kind, amount, balance_before, balance_after,
		description, reference, created_at`

	resourceColumns = `id, owner_id, owner_type, provider, model_family, endpoint, encrypted_credential,
		credential_fingerprint, original_quota, current_quota, released_credits, cost_per_unit, status,
		total_requests, successful_requests, failed_requests, success_rate, avg_latency_ms, total_consumed,
		priority, max_requests_per_minute, expires_at, last_used_at, tags, deposit_id, created_at, updated_at`

	depositColumns = `id, account_id, provider, model_family, claimed_quota, estimated_quota, usable_quota,
		verification_method, verification_outcome, verification_detail, fee_rate, fee_amount,
		credits_granted, resource_id, status, note, created_at, processed_at`

	usageColumns = `id, consumer_id, resource_id, owner_id, provider, model, tokens_in, tokens_out,
		quota_consumed, credits_charged, released, release_fee, success, latency_ms, reason,
		transaction_id, created_at`

	pricingColumns = `model_id, display_name, provider, tier, credits_per_1k_in, credits_per_1k_out,
		image_surcharge, supports_vision, is_active, updated_at`
)

// PostgresStore implements Store on PostgreSQL. Units of work run at
// READ COMMITTED and take row locks with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db     *DB
	logger *utils.Logger
}

// NewPostgresStore wraps an open DB.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db, logger: utils.NewLogger("storage")}
}

// DB returns the underlying connection wrapper.
func (s *PostgresStore) DB() *DB {
	return s.db
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var b models.AccountBalance
	err := s.db.conn.GetContext(ctx, &b, `SELECT `+balanceColumns+` FROM account_balances WHERE account_id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBalances(ctx context.Context) ([]*models.AccountBalance, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var out []*models.AccountBalance
	if err := s.db.conn.SelectContext(ctx, &out, `SELECT `+balanceColumns+` FROM account_balances ORDER BY account_id`); err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) (*models.TransactionPage, error) {
	filter.Normalize()
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	where := "WHERE account_id = $1"
	args := []interface{}{accountID}
	if filter.Kind != nil {
		where += " AND kind = $2"
		args = append(args, *filter.Kind)
	}

	var total int
	if err := s.db.conn.GetContext(ctx, &total, "SELECT COUNT(*) FROM credit_transactions "+where, args...); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM credit_transactions %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	items := []*models.Transaction{}
	if err := s.db.conn.SelectContext(ctx, &items, query, append(args, filter.PageSize, filter.Offset())...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &models.TransactionPage{Items: items, TotalCount: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *PostgresStore) GetResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var r models.PooledResource
	if err := s.db.conn.GetContext(ctx, &r, `SELECT `+resourceColumns+` FROM pooled_resources WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListResources(ctx context.Context, filter models.ResourceFilter) ([]*models.PooledResource, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var clauses []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Provider != nil {
		add("provider", *filter.Provider)
	}
	if filter.ModelFamily != nil {
		add("model_family", *filter.ModelFamily)
	}
	if filter.Status != nil {
		add("status", *filter.Status)
	}
	if filter.OwnerID != nil {
		add("owner_id", *filter.OwnerID)
	}

	query := `SELECT ` + resourceColumns + ` FROM pooled_resources`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	out := []*models.PooledResource{}
	if err := s.db.conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var d models.Deposit
	if err := s.db.conn.GetContext(ctx, &d, `SELECT `+depositColumns+` FROM credit_deposits WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) ListDeposits(ctx context.Context, filter DepositFilter) ([]*models.Deposit, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var clauses []string
	var args []interface{}
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		clauses = append(clauses, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + depositColumns + ` FROM credit_deposits`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	out := []*models.Deposit{}
	if err := s.db.conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUsageRecords(ctx context.Context, filter UsageFilter) ([]*models.UsagePoolRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var clauses []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if filter.ConsumerID != nil {
		add("consumer_id = $%d", *filter.ConsumerID)
	}
	if filter.OwnerID != nil {
		add("owner_id = $%d", *filter.OwnerID)
	}
	if filter.ResourceID != nil {
		add("resource_id = $%d", *filter.ResourceID)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}

	query := `SELECT ` + usageColumns + ` FROM usage_pool_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	out := []*models.UsagePoolRecord{}
	if err := s.db.conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUnpaidReleases(ctx context.Context, before time.Time, limit int) ([]*models.UsagePoolRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	out := []*models.UsagePoolRecord{}
	err := s.db.conn.SelectContext(ctx, &out, `
		SELECT `+prefixColumns("u", usageColumns)+` FROM usage_pool_records u
		LEFT JOIN account_balances b ON b.account_id = u.owner_id
		WHERE u.released > 0
		  AND u.created_at < $1
		  AND COALESCE(b.frozen, FALSE) = FALSE
		  AND NOT EXISTS (
		      SELECT 1 FROM credit_transactions t
		      WHERE t.account_id = u.owner_id
		        AND t.kind = $2
		        AND t.reference = 'earnout:' || u.id::text
		  )
		ORDER BY u.created_at
		LIMIT $3
	`, before, models.TransactionDeposit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid releases: %w", err)
	}
	return out, nil
}

// prefixColumns qualifies every column in a column list with alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (s *PostgresStore) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var stats models.PoolStats
	err := s.db.conn.GetContext(ctx, &stats, `
		SELECT
			COUNT(*)                                                        AS total_resources,
			COUNT(*) FILTER (WHERE status = 'active')                       AS active_resources,
			COUNT(*) FILTER (WHERE owner_type = 'user')                     AS user_resources,
			COUNT(*) FILTER (WHERE owner_type = 'platform')                 AS platform_resources,
			COALESCE(SUM(original_quota), 0)                                AS total_value,
			COALESCE(SUM(current_quota), 0)                                 AS remaining_value,
			COALESCE(SUM(total_requests), 0)                                AS total_requests,
			COUNT(DISTINCT owner_id) FILTER (WHERE owner_type = 'user')     AS contributors,
			COALESCE(SUM(total_consumed), 0)                                AS total_consumed,
			COALESCE(SUM(released_credits), 0)                              AS total_released,
			(SELECT COALESCE(SUM(credits_granted), 0) FROM credit_deposits WHERE status = 'approved') AS total_deposited,
			(SELECT COALESCE(SUM(fee_amount), 0) FROM credit_deposits WHERE status = 'approved')
				+ (SELECT COALESCE(SUM(release_fee), 0) FROM usage_pool_records)                   AS platform_fee_revenue,
			(SELECT COUNT(*) FROM credit_deposits WHERE status = 'approved') AS approved_deposits,
			(SELECT COUNT(*) FROM credit_deposits WHERE status = 'rejected') AS rejected_deposits
		FROM pooled_resources
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute pool stats: %w", err)
	}
	return &stats, nil
}

func (s *PostgresStore) RoutingStats(ctx context.Context, since time.Time) (*models.RoutingStats, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var rows []struct {
		Provider       models.ProviderKind `db:"provider"`
		Requests       int64               `db:"requests"`
		Successful     int64               `db:"successful"`
		QuotaConsumed  models.Credits      `db:"quota_consumed"`
		CreditsCharged models.Credits      `db:"credits_charged"`
	}
	err := s.db.conn.SelectContext(ctx, &rows, `
		SELECT provider,
		       COUNT(*)                               AS requests,
		       COUNT(*) FILTER (WHERE success)        AS successful,
		       COALESCE(SUM(quota_consumed), 0)       AS quota_consumed,
		       COALESCE(SUM(credits_charged), 0)      AS credits_charged
		FROM usage_pool_records
		WHERE created_at >= $1
		GROUP BY provider
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute routing stats: %w", err)
	}

	stats := &models.RoutingStats{ByProvider: make(map[models.ProviderKind]int64, len(rows))}
	for _, r := range rows {
		stats.TotalRequests += r.Requests
		stats.SuccessfulRequests += r.Successful
		stats.QuotaConsumed += r.QuotaConsumed
		stats.CreditsCharged += r.CreditsCharged
		stats.ByProvider[r.Provider] = r.Requests
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests) * 100
	}
	return stats, nil
}

func (s *PostgresStore) GetPricing(ctx context.Context, modelID string) (*models.ModelPricing, error) {
	if p, ok := s.db.pricingCache.Get(modelID); ok {
		return &p, nil
	}

	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var p models.ModelPricing
	if err := s.db.conn.GetContext(ctx, &p, `SELECT `+pricingColumns+` FROM model_pricing WHERE model_id = $1`, modelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPricingNotFound
		}
		return nil, fmt.Errorf("failed to get pricing: %w", err)
	}
	s.db.pricingCache.Set(modelID, p)
	return &p, nil
}

func (s *PostgresStore) ListPricing(ctx context.Context, activeOnly bool) ([]*models.ModelPricing, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + pricingColumns + ` FROM model_pricing`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY model_id`

	out := []*models.ModelPricing{}
	if err := s.db.conn.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list pricing: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertPricing(ctx context.Context, rows []*models.ModelPricing) error {
	if len(rows) == 0 {
		return nil
	}

	return s.InTx(ctx, func(tx Tx) error {
		sqlTx := tx.(*pgTx).tx
		for _, p := range rows {
			_, err := sqlTx.NamedExecContext(ctx, `
				INSERT INTO model_pricing (`+pricingColumns+`)
				VALUES (:model_id, :display_name, :provider, :tier, :credits_per_1k_in, :credits_per_1k_out,
				        :image_surcharge, :supports_vision, :is_active, :updated_at)
				ON CONFLICT (model_id) DO UPDATE SET
					display_name = EXCLUDED.display_name,
					provider = EXCLUDED.provider,
					tier = EXCLUDED.tier,
					credits_per_1k_in = EXCLUDED.credits_per_1k_in,
					credits_per_1k_out = EXCLUDED.credits_per_1k_out,
					image_surcharge = EXCLUDED.image_surcharge,
					supports_vision = EXCLUDED.supports_vision,
					is_active = EXCLUDED.is_active,
					updated_at = EXCLUDED.updated_at
			`, p)
			if err != nil {
				return fmt.Errorf("failed to upsert pricing %s: %w", p.ModelID, err)
			}
			s.db.pricingCache.Delete(p.ModelID)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Stats reports connection pool and pricing cache counters.
func (s *PostgresStore) Stats() DBStats {
	return s.db.GetStats()
}

// CleanupExpiredCacheEntries drops expired pricing cache entries.
func (s *PostgresStore) CleanupExpiredCacheEntries() int {
	return s.db.CleanupExpiredCacheEntries()
}

// pgTx implements Tx over one sqlx transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO account_balances (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`, accountID); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	var b models.AccountBalance
	if err := t.tx.GetContext(ctx, &b,
		`SELECT `+balanceColumns+` FROM account_balances WHERE account_id = $1 FOR UPDATE`, accountID); err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return &b, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, b *models.AccountBalance) error {
	_, err := t.tx.NamedExecContext(ctx, `
		UPDATE account_balances SET
			balance = :balance,
			lifetime_deposited = :lifetime_deposited,
			lifetime_consumed = :lifetime_consumed,
			lifetime_refunded = :lifetime_refunded,
			lifetime_bonus = :lifetime_bonus,
			lifetime_adjusted = :lifetime_adjusted,
			frozen = :frozen,
			updated_at = :updated_at
		WHERE account_id = :account_id
	`, b)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO credit_transactions (`+transactionColumns+`)
		VALUES (:id, :account_id, :kind, :amount, :balance_before, :balance_after,
		        :description, :reference, :created_at)
	`, txn)
	if err != nil {
		if isUniqueViolation(err) && txn.Reference != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, *txn.Reference)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) FindTransactionByReference(ctx context.Context, accountID string, kind models.TransactionKind, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := t.tx.GetContext(ctx, &txn, `
		SELECT `+transactionColumns+` FROM credit_transactions
		WHERE account_id = $1 AND kind = $2 AND reference = $3
		LIMIT 1
	`, accountID, kind, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &txn, nil
}

func (t *pgTx) SumTransactions(ctx context.Context, accountID string) (models.Credits, int, error) {
	var row struct {
		Sum   models.Credits `db:"sum"`
		Count int            `db:"count"`
	}
	err := t.tx.GetContext(ctx, &row,
		`SELECT COALESCE(SUM(amount), 0) AS sum, COUNT(*) AS count FROM credit_transactions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return row.Sum, row.Count, nil
}

func (t *pgTx) LockResource(ctx context.Context, id uuid.UUID) (*models.PooledResource, error) {
	var r models.PooledResource
	if err := t.tx.GetContext(ctx, &r, `SELECT `+resourceColumns+` FROM pooled_resources WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to lock resource: %w", err)
	}
	return &r, nil
}

func (t *pgTx) InsertResource(ctx context.Context, r *models.PooledResource) error {
	if r.Tags == nil {
		r.Tags = []string{}
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO pooled_resources (`+resourceColumns+`)
		VALUES (:id, :owner_id, :owner_type, :provider, :model_family, :endpoint, :encrypted_credential,
		        :credential_fingerprint, :original_quota, :current_quota, :released_credits, :cost_per_unit, :status,
		        :total_requests, :successful_requests, :failed_requests, :success_rate, :avg_latency_ms, :total_consumed,
		        :priority, :max_requests_per_minute, :expires_at, :last_used_at, :tags, :deposit_id, :created_at, :updated_at)
	`, r)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

func (t *pgTx) SaveResource(ctx context.Context, r *models.PooledResource) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE pooled_resources SET
			current_quota = :current_quota,
			released_credits = :released_credits,
			status = :status,
			total_requests = :total_requests,
			successful_requests = :successful_requests,
			failed_requests = :failed_requests,
			success_rate = :success_rate,
			avg_latency_ms = :avg_latency_ms,
			total_consumed = :total_consumed,
			priority = :priority,
			max_requests_per_minute = :max_requests_per_minute,
			expires_at = :expires_at,
			last_used_at = :last_used_at,
			deposit_id = :deposit_id,
			updated_at = :updated_at
		WHERE id = :id
	`, r)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrResourceNotFound
	}
	return nil
}

func (t *pgTx) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	if err := t.tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM pooled_resources WHERE credential_fingerprint = $1)`, fingerprint); err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO credit_deposits (`+depositColumns+`)
		VALUES (:id, :account_id, :provider, :model_family, :claimed_quota, :estimated_quota, :usable_quota,
		        :verification_method, :verification_outcome, :verification_detail, :fee_rate, :fee_amount,
		        :credits_granted, :resource_id, :status, :note, :created_at, :processed_at)
	`, d)
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

func (t *pgTx) LockDeposit(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	var d models.Deposit
	if err := t.tx.GetContext(ctx, &d, `SELECT `+depositColumns+` FROM credit_deposits WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to lock deposit: %w", err)
	}
	return &d, nil
}

func (t *pgTx) DepositStatus(ctx context.Context, id uuid.UUID) (models.DepositStatus, error) {
	var status models.DepositStatus
	if err := t.tx.GetContext(ctx, &status, `SELECT status FROM credit_deposits WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrDepositNotFound
		}
		return "", fmt.Errorf("failed to read deposit status: %w", err)
	}
	return status, nil
}

func (t *pgTx) SaveDeposit(ctx context.Context, d *models.Deposit) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE credit_deposits SET
			estimated_quota = :estimated_quota,
			usable_quota = :usable_quota,
			verification_outcome = :verification_outcome,
			verification_detail = :verification_detail,
			fee_rate = :fee_rate,
			fee_amount = :fee_amount,
			credits_granted = :credits_granted,
			resource_id = :resource_id,
			status = :status,
			note = :note,
			processed_at = :processed_at
		WHERE id = :id
	`, d)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDepositNotFound
	}
	return nil
}

func (t *pgTx) InsertUsageRecord(ctx context.Context, u *models.UsagePoolRecord) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO usage_pool_records (`+usageColumns+`)
		VALUES (:id, :consumer_id, :resource_id, :owner_id, :provider, :model, :tokens_in, :tokens_out,
		        :quota_consumed, :credits_charged, :released, :release_fee, :success, :latency_ms, :reason,
		        :transaction_id, :created_at)
	`, u)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
