package pricing

import (
	"fmt"
	"time"

	"credit_pool/internal/models"
)

// CatalogEntry describes one model's provider cost, as listed in the pool
// configuration file.
type CatalogEntry struct {
	ModelID        string              `yaml:"model_id"`
	DisplayName    string              `yaml:"display_name"`
	Provider       models.ProviderKind `yaml:"provider"`
	InputCostUSD   float64             `yaml:"input_cost_usd"`
	OutputCostUSD  float64             `yaml:"output_cost_usd"`
	ImageCostUSD   float64             `yaml:"image_cost_usd"`
	SupportsVision bool                `yaml:"supports_vision"`
	Demand         Demand              `yaml:"demand"`
	Tier           *models.PricingTier `yaml:"tier"`
}

// DefaultCatalog is the built-in model list used when no catalog is configured.
// Costs are USD per thousand tokens.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{ModelID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: models.ProviderOpenAI, InputCostUSD: 0.00015, OutputCostUSD: 0.0006, SupportsVision: true, Demand: DemandHigh},
		{ModelID: "gpt-4o", DisplayName: "GPT-4o", Provider: models.ProviderOpenAI, InputCostUSD: 0.0025, OutputCostUSD: 0.01, ImageCostUSD: 0.003, SupportsVision: true, Demand: DemandHigh},
		{ModelID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Provider: models.ProviderOpenAI, InputCostUSD: 0.0005, OutputCostUSD: 0.0015, Demand: DemandMedium},
		{ModelID: "text-embedding-3-small", DisplayName: "Embedding 3 small", Provider: models.ProviderOpenAI, InputCostUSD: 0.00002, Demand: DemandLow},
		{ModelID: "whisper-1", DisplayName: "Whisper", Provider: models.ProviderOpenAI, InputCostUSD: 0.006, Demand: DemandLow},
		{ModelID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku", Provider: models.ProviderAnthropic, InputCostUSD: 0.00025, OutputCostUSD: 0.00125, Demand: DemandMedium},
		{ModelID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Provider: models.ProviderAnthropic, InputCostUSD: 0.003, OutputCostUSD: 0.015, SupportsVision: true, Demand: DemandHigh},
		{ModelID: "@cf/meta/llama-3.1-8b-instruct", DisplayName: "Llama 3.1 8B", Provider: models.ProviderCloudflare, InputCostUSD: 0.000282, OutputCostUSD: 0.000827, Demand: DemandMedium},
		{ModelID: "@cf/meta/llama-3.2-1b-instruct", DisplayName: "Llama 3.2 1B", Provider: models.ProviderCloudflare, InputCostUSD: 0.000027, OutputCostUSD: 0.000201, Demand: DemandLow},
		{ModelID: "@cf/meta/llama-3.3-70b-instruct-fp8-fast", DisplayName: "Llama 3.3 70B", Provider: models.ProviderCloudflare, InputCostUSD: 0.000293, OutputCostUSD: 0.002253, Demand: DemandMedium},
		{ModelID: "@cf/meta/llama-3.2-11b-vision-instruct", DisplayName: "Llama 3.2 11B Vision", Provider: models.ProviderCloudflare, InputCostUSD: 0.000049, OutputCostUSD: 0.000676, SupportsVision: true, Demand: DemandLow},
		{ModelID: "@cf/black-forest-labs/flux-1-schnell", DisplayName: "FLUX.1 schnell", Provider: models.ProviderCloudflare, ImageCostUSD: 0.0011, Demand: DemandMedium},
		{ModelID: "@cf/baai/bge-base-en-v1.5", DisplayName: "BGE base", Provider: models.ProviderCloudflare, InputCostUSD: 0.000067, Demand: DemandLow},
	}
}

// Catalog turns catalog entries into ModelPricing rows using an Engine.
type Catalog struct {
	engine *Engine
}

// NewCatalog returns a catalog builder bound to engine.
func NewCatalog(engine *Engine) *Catalog {
	return &Catalog{engine: engine}
}

// Build prices every entry. The image surcharge is zero unless the entry
// declares an image cost.
func (c *Catalog) Build(entries []CatalogEntry, now time.Time) ([]*models.ModelPricing, error) {
	out := make([]*models.ModelPricing, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if entry.ModelID == "" {
			return nil, fmt.Errorf("catalog entry without model_id")
		}
		if _, dup := seen[entry.ModelID]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", entry.ModelID)
		}
		seen[entry.ModelID] = struct{}{}

		if !entry.Provider.IsValid() {
			return nil, fmt.Errorf("catalog entry %q: unsupported provider %q", entry.ModelID, entry.Provider)
		}

		demand := entry.Demand
		if demand == "" {
			demand = DemandMedium
		}
		tier := c.engine.ResolveTier(entry.ModelID, entry.SupportsVision, entry.Tier)
		split := c.engine.SplitPrice(entry.InputCostUSD, entry.OutputCostUSD, tier, demand)

		var surcharge models.Credits
		if entry.ImageCostUSD > 0 {
			surcharge = c.engine.PriceFor(entry.ImageCostUSD, tier, demand)
		}

		name := entry.DisplayName
		if name == "" {
			name = entry.ModelID
		}

		out = append(out, &models.ModelPricing{
			ModelID:         entry.ModelID,
			DisplayName:     name,
			Provider:        entry.Provider,
			Tier:            tier,
			CreditsPer1KIn:  split.Input,
			CreditsPer1KOut: split.Output,
			ImageSurcharge:  surcharge,
			SupportsVision:  entry.SupportsVision,
			IsActive:        true,
			UpdatedAt:       now,
		})
	}
	return out, nil
}
