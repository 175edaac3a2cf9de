package models

import (
	"time"

	"github.com/google/uuid"
)

// UsagePoolRecord is the audit row written for every routed call.
type UsagePoolRecord struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	ConsumerID     string       `db:"consumer_id" json:"consumer_id"`
	ResourceID     uuid.UUID    `db:"resource_id" json:"resource_id"`
	OwnerID        string       `db:"owner_id" json:"owner_id"`
	Provider       ProviderKind `db:"provider" json:"provider"`
	Model          string       `db:"model" json:"model"`
	TokensIn       int          `db:"tokens_in" json:"tokens_in"`
	TokensOut      int          `db:"tokens_out" json:"tokens_out"`
	QuotaConsumed  Credits      `db:"quota_consumed" json:"quota_consumed"`
	CreditsCharged Credits      `db:"credits_charged" json:"credits_charged"`
	Released       Credits      `db:"released" json:"released"`
	ReleaseFee     Credits      `db:"release_fee" json:"release_fee"`
	Success        bool         `db:"success" json:"success"`
	LatencyMS      int64        `db:"latency_ms" json:"latency_ms"`
	Reason         string       `db:"reason" json:"reason"`
	TransactionID  *uuid.UUID   `db:"transaction_id" json:"transaction_id,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// EarnOutReference is the ledger reference of the payout released by the
// usage record id.
func EarnOutReference(usageRecordID uuid.UUID) string {
	return "earnout:" + usageRecordID.String()
}

// PoolStats summarises the whole pool for reporting.
type PoolStats struct {
	TotalResources     int     `db:"total_resources" json:"total_resources"`
	ActiveResources    int     `db:"active_resources" json:"active_resources"`
	UserResources      int     `db:"user_resources" json:"user_contributed_resources"`
	PlatformResources  int     `db:"platform_resources" json:"platform_owned_resources"`
	TotalValue         Credits `db:"total_value" json:"total_value"`
	RemainingValue     Credits `db:"remaining_value" json:"remaining_value"`
	TotalRequests      int64   `db:"total_requests" json:"total_requests"`
	Contributors       int     `db:"contributors" json:"contributors"`
	TotalDeposited     Credits `db:"total_deposited" json:"total_deposited"`
	TotalConsumed      Credits `db:"total_consumed" json:"total_consumed"`
	TotalReleased      Credits `db:"total_released" json:"total_released"`
	PlatformFeeRevenue Credits `db:"platform_fee_revenue" json:"platform_fee_revenue"`
	ApprovedDeposits   int     `db:"approved_deposits" json:"approved_deposits"`
	RejectedDeposits   int     `db:"rejected_deposits" json:"rejected_deposits"`
}

// ContributionSummary is one contributor's view of their pooled resources.
type ContributionSummary struct {
	AccountID        string            `json:"account_id"`
	Deposits         int               `json:"deposits"`
	ActiveResources  int               `json:"active_resources"`
	TotalContributed Credits           `json:"total_contributed"`
	CreditsGranted   Credits           `json:"credits_granted"`
	CreditsReleased  Credits           `json:"credits_released"`
	QuotaConsumed    Credits           `json:"quota_consumed"`
	TotalRequests    int64             `json:"total_requests"`
	Resources        []*PooledResource `json:"resources"`
}

// RoutingStats aggregates usage records for reporting.
type RoutingStats struct {
	TotalRequests      int64                  `json:"total_requests"`
	SuccessfulRequests int64                  `json:"successful_requests"`
	SuccessRate        float64                `json:"success_rate"`
	QuotaConsumed      Credits                `json:"quota_consumed"`
	CreditsCharged     Credits                `json:"credits_charged"`
	ByProvider         map[ProviderKind]int64 `json:"by_provider"`
}
