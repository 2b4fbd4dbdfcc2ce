package cost

// Rates holds per-model pricing configuration.
type Rates struct {
	Models       map[string]ModelRate `yaml:"models" mapstructure:"models"`
	DefaultModel string               `yaml:"default_model" mapstructure:"default_model"`
	ImagePerUnit map[string]float64   `yaml:"image_per_unit" mapstructure:"image_per_unit"`
}

// ModelRate holds per-model token pricing (USD per thousand tokens).
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" mapstructure:"output_per_1k"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate returns the rate for model. Unknown models are billed at the default
// model's rate so spend is never under-counted to zero.
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	if rate, ok := c.rates.Models[model]; ok {
		return rate, true
	}
	rate, ok := c.rates.Models[c.rates.DefaultModel]
	return rate, ok
}

// LLM computes the cost of one completion: in/1000*inRate + out/1000*outRate.
func (c *Calculator) LLM(model string, input, output int) float64 {
	rate, ok := c.Rate(model)
	if !ok {
		return 0
	}
	return float64(input)/1000*rate.InputPer1K + float64(output)/1000*rate.OutputPer1K
}

// Image returns the flat cost of one generated image.
func (c *Calculator) Image(model string) float64 {
	return c.rates.ImagePerUnit[model]
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"claude-haiku-4-5-20251001":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
			"claude-sonnet-4-5-20250929": {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
		DefaultModel: "gpt-4o",
		ImagePerUnit: map[string]float64{
			"dall-e-3": 0.04,
		},
	}
}
