package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return engine
}

func TestEngine_TierFor(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		model     string
		hasVision bool
		want      models.PricingTier
	}{
		{"gpt-4o", true, models.TierVision},
		{"llava-1.5-7b", false, models.TierVision},
		{"@cf/meta/llama-3.2-11b-vision-instruct", false, models.TierVision},
		{"whisper-1", false, models.TierAudio},
		{"@cf/black-forest-labs/flux-1-schnell", false, models.TierImage},
		{"stable-diffusion-xl", false, models.TierImage},
		{"text-embedding-3-small", false, models.TierEmbedding},
		{"@cf/baai/bge-base-en-v1.5", false, models.TierEmbedding},
		{"llama-3.3-70b-instruct", false, models.TierLarge},
		{"qwen2.5-72b", false, models.TierLarge},
		{"gpt-oss-120b", false, models.TierLarge},
		{"mistral-small-24b", false, models.TierMedium},
		{"llama-3.2-11b-instruct", false, models.TierMedium},
		{"gemma-3-12b-it", false, models.TierMedium},
		{"qwq-32b", false, models.TierMedium},
		{"llama-3.1-8b-instruct", false, models.TierSmall},
		{"mistral-7b-instruct", false, models.TierSmall},
		{"llama-3.2-1b-instruct", false, models.TierMicro},
		{"llama-3.2-3b-instruct", false, models.TierMicro},
		{"phi-micro", false, models.TierMicro},
		{"gpt-3.5-turbo", false, models.TierSmall},
		{"", false, models.TierSmall},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := engine.TierFor(tt.model, tt.hasVision); got != tt.want {
				t.Errorf("TierFor(%q, %v) = %s, want %s", tt.model, tt.hasVision, got, tt.want)
			}
		})
	}
}

func TestEngine_ResolveTier_OverrideWins(t *testing.T) {
	engine := newTestEngine(t)

	large := models.TierLarge
	assert.Equal(t, models.TierLarge, engine.ResolveTier("llama-3.2-1b", false, &large))

	bogus := models.PricingTier("gigantic")
	assert.Equal(t, models.TierMicro, engine.ResolveTier("llama-3.2-1b", false, &bogus))
	assert.Equal(t, models.TierMicro, engine.ResolveTier("llama-3.2-1b", false, nil))
}

func TestEngine_PriceFor(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name   string
		cost   float64
		tier   models.PricingTier
		demand Demand
		want   models.Credits
	}{
		// 0.01 USD = 1 unit; small 1.6 at medium demand
		{"one unit small medium", 0.01, models.TierSmall, DemandMedium, models.CreditsFromFloat(1.6)},
		{"large high demand", 0.01, models.TierLarge, DemandHigh, models.CreditsFromFloat(1.68)},
		{"image low demand", 0.05, models.TierImage, DemandLow, models.CreditsFromFloat(9)},
		{"floored at minimum", 0.0001, models.TierMicro, DemandLow, models.CreditsFromFloat(0.1)},
		{"zero cost gets minimum", 0, models.TierSmall, DemandMedium, models.CreditsFromFloat(0.1)},
		{"rounded to cents", 0.0025, models.TierVision, DemandHigh, models.CreditsFromFloat(0.51)},
		{"unknown demand treated as medium", 0.01, models.TierSmall, Demand("surge"), models.CreditsFromFloat(1.6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.PriceFor(tt.cost, tt.tier, tt.demand)
			if got != tt.want {
				t.Errorf("PriceFor(%v, %s, %s) = %s, want %s", tt.cost, tt.tier, tt.demand, got, tt.want)
			}
		})
	}
}

func TestEngine_SplitPrice(t *testing.T) {
	engine := newTestEngine(t)

	split := engine.SplitPrice(0.01, 0.03, models.TierMedium, DemandMedium)

	assert.Equal(t, models.CreditsFromFloat(1.5), split.Input)
	assert.Equal(t, models.CreditsFromFloat(4.5), split.Output)
}

func TestEngine_ProfitMargin(t *testing.T) {
	engine := newTestEngine(t)

	assert.Equal(t, 60.0, engine.ProfitMargin(models.CreditsFromFloat(1.6), 0.01))
	assert.Equal(t, 0.0, engine.ProfitMargin(models.CreditsFromFloat(1.6), 0))
	assert.Equal(t, 33.3, engine.ProfitMargin(models.CreditsFromFloat(4), 0.03))
}

func TestNewEngine_RejectsIncompleteConfig(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.TierMultipliers, models.TierImage)

	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.CreditUnitUSD = 0
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestConfig_Merge(t *testing.T) {
	override := Config{
		TierMultipliers:   map[models.PricingTier]float64{models.TierImage: 2.5},
		DemandMultipliers: map[Demand]float64{DemandHigh: 1.5},
	}

	merged := override.Merge(DefaultConfig())

	assert.Equal(t, 0.01, merged.CreditUnitUSD)
	assert.Equal(t, 2.5, merged.TierMultipliers[models.TierImage])
	assert.Equal(t, 1.6, merged.TierMultipliers[models.TierSmall])
	assert.Equal(t, 1.5, merged.DemandMultipliers[DemandHigh])
	assert.NoError(t, merged.Validate())

	// defaults are not mutated by the merge
	assert.Equal(t, 2.0, DefaultConfig().TierMultipliers[models.TierImage])
}

func TestCatalog_Build(t *testing.T) {
	engine := newTestEngine(t)
	catalog := NewCatalog(engine)

	rows, err := catalog.Build(DefaultCatalog(), time.Now())
	require.NoError(t, err)
	require.Len(t, rows, len(DefaultCatalog()))

	byID := make(map[string]*models.ModelPricing, len(rows))
	for _, row := range rows {
		byID[row.ModelID] = row
		assert.True(t, row.IsActive)
		assert.GreaterOrEqual(t, row.CreditsPer1KIn, models.CreditsFromFloat(0.1), row.ModelID)
	}

	assert.Equal(t, models.TierVision, byID["gpt-4o"].Tier)
	assert.True(t, byID["gpt-4o"].ImageSurcharge > 0)
	assert.Equal(t, models.TierLarge, byID["@cf/meta/llama-3.3-70b-instruct-fp8-fast"].Tier)
	assert.Equal(t, models.TierImage, byID["@cf/black-forest-labs/flux-1-schnell"].Tier)
	assert.Equal(t, models.Credits(0), byID["gpt-3.5-turbo"].ImageSurcharge)
}

func TestCatalog_BuildRejectsBadEntries(t *testing.T) {
	catalog := NewCatalog(newTestEngine(t))

	_, err := catalog.Build([]CatalogEntry{{Provider: models.ProviderOpenAI}}, time.Now())
	assert.Error(t, err)

	_, err = catalog.Build([]CatalogEntry{
		{ModelID: "a", Provider: models.ProviderOpenAI},
		{ModelID: "a", Provider: models.ProviderOpenAI},
	}, time.Now())
	assert.Error(t, err)

	_, err = catalog.Build([]CatalogEntry{{ModelID: "a", Provider: "bedrock"}}, time.Now())
	assert.Error(t, err)
}
