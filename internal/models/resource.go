package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ProviderKind is the closed set of inference providers a credential can belong to.
type ProviderKind string

const (
	ProviderOpenAI     ProviderKind = "openai"
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderCloudflare ProviderKind = "cloudflare"
	ProviderGeneric    ProviderKind = "generic"
)

// AllProviderKinds lists every supported kind.
var AllProviderKinds = []ProviderKind{ProviderOpenAI, ProviderAnthropic, ProviderCloudflare, ProviderGeneric}

// IsValid reports whether k is a supported provider kind.
func (k ProviderKind) IsValid() bool {
	switch k {
	case ProviderOpenAI, ProviderAnthropic, ProviderCloudflare, ProviderGeneric:
		return true
	default:
		return false
	}
}

// ParseProviderKind resolves a user-facing provider name once, at the edge.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "claude":
		return ProviderAnthropic, nil
	case "other", "custom":
		return ProviderGeneric, nil
	}
	if !k.IsValid() {
		return "", fmt.Errorf("unsupported provider %q", s)
	}
	return k, nil
}

// OwnerType distinguishes contributed credentials from platform-owned ones.
type OwnerType string

const (
	OwnerTypeUser     OwnerType = "user"
	OwnerTypePlatform OwnerType = "platform"
)

// ResourceStatus is the lifecycle state of a pooled resource.
type ResourceStatus string

const (
	ResourceActive    ResourceStatus = "active"
	ResourceDepleted  ResourceStatus = "depleted"
	ResourceSuspended ResourceStatus = "suspended"
	ResourceExpired   ResourceStatus = "expired"
	ResourceFailed    ResourceStatus = "failed"
)

// PooledResource is a credential admitted into the shared pool.
type PooledResource struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	OwnerID               string         `db:"owner_id" json:"owner_id"`
	OwnerType             OwnerType      `db:"owner_type" json:"owner_type"`
	Provider              ProviderKind   `db:"provider" json:"provider"`
	ModelFamily           string         `db:"model_family" json:"model_family"`
	Endpoint              string         `db:"endpoint" json:"endpoint,omitempty"`
	EncryptedCredential   string         `db:"encrypted_credential" json:"-"`
	CredentialFingerprint string         `db:"credential_fingerprint" json:"-"`
	OriginalQuota         Credits        `db:"original_quota" json:"original_quota"`
	CurrentQuota          Credits        `db:"current_quota" json:"current_quota"`
	ReleasedCredits       Credits        `db:"released_credits" json:"released_credits"`
	CostPerUnit           Credits        `db:"cost_per_unit" json:"cost_per_unit"`
	Status                ResourceStatus `db:"status" json:"status"`
	TotalRequests         int64          `db:"total_requests" json:"total_requests"`
	SuccessfulRequests    int64          `db:"successful_requests" json:"successful_requests"`
	FailedRequests        int64          `db:"failed_requests" json:"failed_requests"`
	SuccessRate           float64        `db:"success_rate" json:"success_rate"`
	AvgLatencyMS          float64        `db:"avg_latency_ms" json:"avg_latency_ms"`
	TotalConsumed         Credits        `db:"total_consumed" json:"total_consumed"`
	Priority              int            `db:"priority" json:"priority"`
	MaxRequestsPerMinute  *int           `db:"max_requests_per_minute" json:"max_requests_per_minute,omitempty"`
	ExpiresAt             *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt            *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	Tags                  pq.StringArray `db:"tags" json:"tags,omitempty"`
	DepositID             *uuid.UUID     `db:"deposit_id" json:"deposit_id,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the resource is past its expiry at now.
func (r *PooledResource) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// IsRoutable reports whether the resource may serve a request of size required.
func (r *PooledResource) IsRoutable(required Credits, now time.Time) bool {
	return r.Status == ResourceActive && !r.IsExpired(now) && r.CurrentQuota >= required
}

// ApplyUsage records one routed call against the resource and returns the
// quota actually taken. The remaining quota is clamped at zero and an active
// resource turns depleted when nothing is left.
func (r *PooledResource) ApplyUsage(consumed Credits, success bool, latency time.Duration, now time.Time) Credits {
	if consumed < 0 {
		consumed = 0
	}
	taken := MinCredits(consumed, r.CurrentQuota)
	r.CurrentQuota -= taken
	r.TotalConsumed += taken

	r.TotalRequests++
	if success {
		r.SuccessfulRequests++
	} else {
		r.FailedRequests++
	}
	r.SuccessRate = float64(r.SuccessfulRequests) / float64(r.TotalRequests) * 100

	if latency > 0 {
		ms := float64(latency) / float64(time.Millisecond)
		n := float64(r.TotalRequests)
		r.AvgLatencyMS = (r.AvgLatencyMS*(n-1) + ms) / n
	}

	r.LastUsedAt = &now
	r.UpdatedAt = now
	if r.CurrentQuota == 0 && r.Status == ResourceActive {
		r.Status = ResourceDepleted
	}
	return taken
}

// ResourceFilter narrows a resource listing.
type ResourceFilter struct {
	Provider    *ProviderKind
	ModelFamily *string
	Status      *ResourceStatus
	OwnerID     *string
}

// Matches reports whether r passes every set field of f.
func (f ResourceFilter) Matches(r *PooledResource) bool {
	if f.Provider != nil && r.Provider != *f.Provider {
		return false
	}
	if f.ModelFamily != nil && r.ModelFamily != *f.ModelFamily {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.OwnerID != nil && r.OwnerID != *f.OwnerID {
		return false
	}
	return true
}
