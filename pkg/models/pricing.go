package models

// ModelPricing defines per-1M token costs for a vendor's model.
type ModelPricing struct {
	Vendor           string  `json:"vendor" yaml:"vendor"`
	Model            string  `json:"model" yaml:"model"`
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million"`
}
