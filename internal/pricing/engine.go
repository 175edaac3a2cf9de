package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"credit_pool/internal/models"
)

// Demand is the demand band a model is priced under.
type Demand string

const (
	DemandLow    Demand = "low"
	DemandMedium Demand = "medium"
	DemandHigh   Demand = "high"
)

// Config holds every tunable number of the pricing model.
type Config struct {
	CreditUnitUSD     float64                        `yaml:"credit_unit_usd"`
	MinimumCharge     float64                        `yaml:"minimum_charge"`
	TierMultipliers   map[models.PricingTier]float64 `yaml:"tier_multipliers"`
	DemandMultipliers map[Demand]float64             `yaml:"demand_multipliers"`
}

// DefaultConfig returns the standard price list: 1 Credit is $0.01.
func DefaultConfig() Config {
	return Config{
		CreditUnitUSD: 0.01,
		MinimumCharge: 0.1,
		TierMultipliers: map[models.PricingTier]float64{
			models.TierMicro:     1.8,
			models.TierSmall:     1.6,
			models.TierMedium:    1.5,
			models.TierLarge:     1.4,
			models.TierVision:    1.7,
			models.TierAudio:     1.6,
			models.TierImage:     2.0,
			models.TierEmbedding: 1.5,
		},
		DemandMultipliers: map[Demand]float64{
			DemandHigh:   1.2,
			DemandMedium: 1.0,
			DemandLow:    0.9,
		},
	}
}

// Validate checks that every tier and demand band has a positive multiplier.
func (c Config) Validate() error {
	if c.CreditUnitUSD <= 0 {
		return fmt.Errorf("credit_unit_usd must be positive, got %v", c.CreditUnitUSD)
	}
	if c.MinimumCharge < 0 {
		return fmt.Errorf("minimum_charge must not be negative, got %v", c.MinimumCharge)
	}
	for _, tier := range []models.PricingTier{
		models.TierMicro, models.TierSmall, models.TierMedium, models.TierLarge,
		models.TierVision, models.TierAudio, models.TierImage, models.TierEmbedding,
	} {
		if c.TierMultipliers[tier] <= 0 {
			return fmt.Errorf("missing multiplier for tier %s", tier)
		}
	}
	for _, d := range []Demand{DemandLow, DemandMedium, DemandHigh} {
		if c.DemandMultipliers[d] <= 0 {
			return fmt.Errorf("missing multiplier for demand %s", d)
		}
	}
	return nil
}

// Merge fills the zero fields of c from defaults.
func (c Config) Merge(defaults Config) Config {
	out := defaults
	if c.CreditUnitUSD > 0 {
		out.CreditUnitUSD = c.CreditUnitUSD
	}
	if c.MinimumCharge > 0 {
		out.MinimumCharge = c.MinimumCharge
	}
	out.TierMultipliers = make(map[models.PricingTier]float64, len(defaults.TierMultipliers))
	for k, v := range defaults.TierMultipliers {
		out.TierMultipliers[k] = v
	}
	for k, v := range c.TierMultipliers {
		out.TierMultipliers[k] = v
	}
	out.DemandMultipliers = make(map[Demand]float64, len(defaults.DemandMultipliers))
	for k, v := range defaults.DemandMultipliers {
		out.DemandMultipliers[k] = v
	}
	for k, v := range c.DemandMultipliers {
		out.DemandMultipliers[k] = v
	}
	return out
}

// Split is a price broken into its input and output halves.
type Split struct {
	Input  models.Credits `json:"input"`
	Output models.Credits `json:"output"`
}

// Engine converts provider USD cost into Credit prices.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine bound to it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Size hints are checked largest first so that "11b" is not read as "1b".
var sizeBuckets = []struct {
	tier  models.PricingTier
	hints []string
}{
	{models.TierLarge, []string{"70b", "72b", "120b", "405b"}},
	{models.TierMedium, []string{"11b", "12b", "17b", "20b", "24b", "27b", "32b"}},
	{models.TierSmall, []string{"7b", "8b"}},
	{models.TierMicro, []string{"1b", "3b", "micro"}},
}

// TierFor classifies a model by substring hints in its identifier.
// It is a heuristic; callers holding authoritative metadata use ResolveTier.
func (e *Engine) TierFor(modelID string, hasVision bool) models.PricingTier {
	id := strings.ToLower(modelID)

	switch {
	case hasVision || containsAny(id, "vision", "llava"):
		return models.TierVision
	case containsAny(id, "whisper", "audio"):
		return models.TierAudio
	case containsAny(id, "flux", "stable-diffusion", "sdxl"):
		return models.TierImage
	case containsAny(id, "embed", "bge"):
		return models.TierEmbedding
	}

	for _, bucket := range sizeBuckets {
		if containsSizeHint(id, bucket.hints) {
			return bucket.tier
		}
	}
	return models.TierSmall
}

// ResolveTier returns override when it names a valid tier, else TierFor.
func (e *Engine) ResolveTier(modelID string, hasVision bool, override *models.PricingTier) models.PricingTier {
	if override != nil && override.IsValid() {
		return *override
	}
	return e.TierFor(modelID, hasVision)
}

// PriceFor converts a provider cost per thousand tokens into Credits per
// thousand tokens, floored at the minimum charge and rounded to 2 decimals.
func (e *Engine) PriceFor(costPer1kUSD float64, tier models.PricingTier, demand Demand) models.Credits {
	units := decimal.NewFromFloat(costPer1kUSD).Div(decimal.NewFromFloat(e.cfg.CreditUnitUSD))
	price := units.
		Mul(decimal.NewFromFloat(e.tierMultiplier(tier))).
		Mul(decimal.NewFromFloat(e.demandMultiplier(demand)))

	minimum := decimal.NewFromFloat(e.cfg.MinimumCharge)
	if price.LessThan(minimum) {
		price = minimum
	}
	return models.CreditsFromDecimal(price.RoundBank(2))
}

// SplitPrice prices input and output cost independently.
func (e *Engine) SplitPrice(inputCostUSD, outputCostUSD float64, tier models.PricingTier, demand Demand) Split {
	return Split{
		Input:  e.PriceFor(inputCostUSD, tier, demand),
		Output: e.PriceFor(outputCostUSD, tier, demand),
	}
}

// ProfitMargin reports the margin of price over provider cost as a
// percentage rounded to one decimal. Zero cost yields zero.
func (e *Engine) ProfitMargin(price models.Credits, providerCostUSD float64) float64 {
	if providerCostUSD <= 0 {
		return 0
	}
	costUnits := decimal.NewFromFloat(providerCostUSD).Div(decimal.NewFromFloat(e.cfg.CreditUnitUSD))
	margin := price.Decimal().Sub(costUnits).Div(costUnits).Mul(decimal.NewFromInt(100))
	f, _ := margin.RoundBank(1).Float64()
	return f
}

func (e *Engine) tierMultiplier(tier models.PricingTier) float64 {
	if m, ok := e.cfg.TierMultipliers[tier]; ok {
		return m
	}
	return e.cfg.TierMultipliers[models.TierSmall]
}

func (e *Engine) demandMultiplier(demand Demand) float64 {
	if m, ok := e.cfg.DemandMultipliers[demand]; ok {
		return m
	}
	return e.cfg.DemandMultipliers[DemandMedium]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// containsSizeHint matches a size token that is not the tail of a longer
// number, so "1b" does not match "11b" and "7b" does not match "27b".
func containsSizeHint(id string, hints []string) bool {
	for _, hint := range hints {
		for start := 0; ; {
			idx := strings.Index(id[start:], hint)
			if idx < 0 {
				break
			}
			pos := start + idx
			if pos == 0 || !isDigit(id[pos-1]) {
				return true
			}
			start = pos + 1
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
