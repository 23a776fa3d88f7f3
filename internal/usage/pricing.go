package usage

import "strings"

// Price is the USD rate per million tokens for one provider model.
type Price struct {
	Provider         string  `json:"provider" mapstructure:"provider" yaml:"provider"`
	Model            string  `json:"model" mapstructure:"model" yaml:"model"`
	InputPerMillion  float64 `json:"input_per_million" mapstructure:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" mapstructure:"output_per_million" yaml:"output_per_million"`
}

// Cost returns the cost of the given token counts at this price.
func (p Price) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1_000_000*p.InputPerMillion +
		float64(completionTokens)/1_000_000*p.OutputPerMillion
}

// DefaultPrices is the built-in pricing table, used when configuration
// supplies none.
func DefaultPrices() []Price {
	return []Price{
		{Provider: "openai", Model: "gpt-4o", InputPerMillion: 2.50, OutputPerMillion: 10.0},
		{Provider: "openai", Model: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.60},
		{Provider: "openai", Model: "gpt-4.1", InputPerMillion: 2.00, OutputPerMillion: 8.00},
		{Provider: "openai", Model: "gpt-4.1-mini", InputPerMillion: 0.40, OutputPerMillion: 1.60},
		{Provider: "anthropic", Model: "claude-3-5-haiku-20241022", InputPerMillion: 0.80, OutputPerMillion: 4.0},
		{Provider: "anthropic", Model: "claude-sonnet-4-20250514", InputPerMillion: 3.0, OutputPerMillion: 15.0},
		{Provider: "gemini", Model: "gemini-2.0-flash", InputPerMillion: 0.10, OutputPerMillion: 0.40},
		{Provider: "gemini", Model: "gemini-2.5-flash", InputPerMillion: 0.30, OutputPerMillion: 2.50},
	}
}

// Pricing resolves prices by provider and model. The provider may be left
// empty in an entry to match any provider serving that model.
type Pricing struct {
	prices   map[string]Price
	fallback Price
}

// NewPricing builds a lookup table with a fallback rate for unknown models.
func NewPricing(prices []Price, fallback Price) *Pricing {
	p := &Pricing{
		prices:   make(map[string]Price, len(prices)),
		fallback: fallback,
	}
	for _, price := range prices {
		p.prices[priceKey(price.Provider, price.Model)] = price
	}
	return p
}

// Lookup returns the price for a provider model and whether it was known.
func (p *Pricing) Lookup(provider, model string) (Price, bool) {
	if price, ok := p.prices[priceKey(provider, model)]; ok {
		return price, true
	}
	if price, ok := p.prices[priceKey("", model)]; ok {
		return price, true
	}
	return p.fallback, false
}

func priceKey(provider, model string) string {
	return strings.ToLower(provider) + "|" + strings.ToLower(model)
}
