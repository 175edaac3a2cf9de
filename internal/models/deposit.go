package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationOutcome classifies the result of probing a credential.
type ValidationOutcome string

const (
	OutcomeValid          ValidationOutcome = "valid"
	OutcomeInvalid        ValidationOutcome = "invalid"
	OutcomeQuotaExhausted ValidationOutcome = "quota_exhausted"
	OutcomeRateLimited    ValidationOutcome = "rate_limited"
	OutcomeNetworkError   ValidationOutcome = "network_error"
	OutcomeUnknownError   ValidationOutcome = "unknown_error"
)

// DepositStatus is the lifecycle state of a deposit.
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
	DepositRefunded DepositStatus = "refunded"
)

// VerificationAPICall is the only verification method currently offered.
const VerificationAPICall = "api_call"

// Deposit is a contributor's request to admit a credential into the pool.
type Deposit struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	AccountID           string            `db:"account_id" json:"account_id"`
	Provider            ProviderKind      `db:"provider" json:"provider"`
	ModelFamily         string            `db:"model_family" json:"model_family"`
	ClaimedQuota        Credits           `db:"claimed_quota" json:"claimed_quota"`
	EstimatedQuota      *Credits          `db:"estimated_quota" json:"estimated_quota,omitempty"`
	UsableQuota         Credits           `db:"usable_quota" json:"usable_quota"`
	VerificationMethod  string            `db:"verification_method" json:"verification_method"`
	VerificationOutcome ValidationOutcome `db:"verification_outcome" json:"verification_outcome"`
	VerificationDetail  string            `db:"verification_detail" json:"verification_detail,omitempty"`
	FeeRate             float64           `db:"fee_rate" json:"fee_rate"`
	FeeAmount           Credits           `db:"fee_amount" json:"fee_amount"`
	CreditsGranted      Credits           `db:"credits_granted" json:"credits_granted"`
	ResourceID          *uuid.UUID        `db:"resource_id" json:"resource_id,omitempty"`
	Status              DepositStatus     `db:"status" json:"status"`
	Note                string            `db:"note" json:"note,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	ProcessedAt         *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
}

// ReleaseTerms controls how a contributed quota is credited back to its owner.
type ReleaseTerms struct {
	// InitialRate is the share of usable quota granted at deposit time.
	InitialRate float64 `yaml:"initial_rate"`
	// FeeRate is the platform fee taken from every release.
	FeeRate float64 `yaml:"fee_rate"`
}

// DefaultReleaseTerms grants 10% up front and keeps a 10% fee.
func DefaultReleaseTerms() ReleaseTerms {
	return ReleaseTerms{InitialRate: 0.10, FeeRate: 0.10}
}

// NetRate is the share of a release that reaches the contributor.
func (t ReleaseTerms) NetRate() float64 {
	return 1 - t.FeeRate
}

// EarnedRelease returns the Credits owed to a contributor when the consumed
// total of a resource moves from before to after. Consumption up to the
// initial-grant threshold is already paid by the deposit grant.
func (t ReleaseTerms) EarnedRelease(original, before, after Credits) Credits {
	net, _ := t.ReleaseSplit(original, before, after)
	return net
}

// ReleaseSplit is EarnedRelease plus the platform fee withheld from it.
func (t ReleaseTerms) ReleaseSplit(original, before, after Credits) (net, fee Credits) {
	threshold := original.MulRate(t.InitialRate)
	from := MaxCredits(threshold, before)
	to := MaxCredits(threshold, after)
	if to <= from {
		return 0, 0
	}
	gross := to - from
	net = gross.MulRate(t.NetRate())
	return net, gross - net
}
