package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingTier groups models that share a profit multiplier.
type PricingTier string

const (
	TierMicro     PricingTier = "micro"
	TierSmall     PricingTier = "small"
	TierMedium    PricingTier = "medium"
	TierLarge     PricingTier = "large"
	TierVision    PricingTier = "vision"
	TierAudio     PricingTier = "audio"
	TierImage     PricingTier = "image"
	TierEmbedding PricingTier = "embedding"
)

// IsValid reports whether t is a known tier.
func (t PricingTier) IsValid() bool {
	switch t {
	case TierMicro, TierSmall, TierMedium, TierLarge, TierVision, TierAudio, TierImage, TierEmbedding:
		return true
	default:
		return false
	}
}

// ModelPricing is the Credit price list entry for one model.
type ModelPricing struct {
	ModelID         string       `db:"model_id" json:"model_id"`
	DisplayName     string       `db:"display_name" json:"display_name"`
	Provider        ProviderKind `db:"provider" json:"provider"`
	Tier            PricingTier  `db:"tier" json:"tier"`
	CreditsPer1KIn  Credits      `db:"credits_per_1k_in" json:"credits_per_1k_in"`
	CreditsPer1KOut Credits      `db:"credits_per_1k_out" json:"credits_per_1k_out"`
	ImageSurcharge  Credits      `db:"image_surcharge" json:"image_surcharge"`
	SupportsVision  bool         `db:"supports_vision" json:"supports_vision"`
	IsActive        bool         `db:"is_active" json:"is_active"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// CalculateCost prices a call: tokens are billed per thousand and the image
// surcharge applies once when the request carried an image.
func (p *ModelPricing) CalculateCost(inputTokens, outputTokens int, hasImage bool) Credits {
	thousand := decimal.NewFromInt(1000)
	cost := decimal.NewFromInt(int64(inputTokens)).Div(thousand).Mul(p.CreditsPer1KIn.Decimal())
	cost = cost.Add(decimal.NewFromInt(int64(outputTokens)).Div(thousand).Mul(p.CreditsPer1KOut.Decimal()))
	if hasImage {
		cost = cost.Add(p.ImageSurcharge.Decimal())
	}
	return CreditsFromDecimal(cost)
}
