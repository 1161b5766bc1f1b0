package models

import (
	"fmt"

	"github.com/noteflow/modelkit/provider"
)

// Range is an inclusive numeric bound with a suggested default.
type Range struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

// ParameterRanges holds safe generation-parameter bounds for a model.
type ParameterRanges struct {
	Temperature Range `json:"temperature"`
	TopP        Range `json:"top_p"`
}

// ParameterValidation is the outcome of validating caller-supplied values:
// clamped values plus advisory warnings. Out-of-range input is adjusted, not
// rejected; UI callers apply the adjustment and surface the warnings.
type ParameterValidation struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// DefaultRanges are the provider-wide bounds used when no discovered
// metadata narrows them.
func DefaultRanges() ParameterRanges {
	return ParameterRanges{
		Temperature: Range{Min: 0, Max: 2, Default: 0.7},
		TopP:        Range{Min: 0, Max: 1, Default: 0.95},
	}
}

// Ranges derives parameter bounds for modelName from discovered metadata,
// falling back to DefaultRanges when the model is unknown or discovery has
// produced nothing. Pass modelName "" for the provider-wide bounds.
func Ranges(discovered []provider.ModelInfo, modelName string) ParameterRanges {
	ranges := DefaultRanges()
	if modelName == "" {
		return ranges
	}
	for _, info := range discovered {
		if info.ID != modelName {
			continue
		}
		if info.MaxTemperature != nil && *info.MaxTemperature > 0 {
			ranges.Temperature.Max = *info.MaxTemperature
			if ranges.Temperature.Default > ranges.Temperature.Max {
				ranges.Temperature.Default = ranges.Temperature.Max
			}
		}
		if info.TopP != nil && *info.TopP >= 0 && *info.TopP <= 1 {
			ranges.TopP.Default = *info.TopP
		}
		break
	}
	return ranges
}

// clamp adjusts v into r, recording a warning describing the adjustment.
func clamp(v float64, r Range, label string, warnings []string) (float64, []string) {
	switch {
	case v < r.Min:
		warnings = append(warnings, fmt.Sprintf("%s %.2f is below the minimum %.2f; adjusted to %.2f", label, v, r.Min, r.Min))
		return r.Min, warnings
	case v > r.Max:
		warnings = append(warnings, fmt.Sprintf("%s %.2f exceeds the maximum %.2f; adjusted to %.2f", label, v, r.Max, r.Max))
		return r.Max, warnings
	default:
		return v, warnings
	}
}

// ValidateParameters clamps temperature and top_p into ranges. Nil inputs
// pass through unchanged.
func ValidateParameters(ranges ParameterRanges, temperature, topP *float64) ParameterValidation {
	var result ParameterValidation
	if temperature != nil {
		v, warnings := clamp(*temperature, ranges.Temperature, "temperature", result.Warnings)
		result.Temperature = &v
		result.Warnings = warnings
	}
	if topP != nil {
		v, warnings := clamp(*topP, ranges.TopP, "top_p", result.Warnings)
		result.TopP = &v
		result.Warnings = warnings
	}
	return result
}

// DisplayInfo renders the ranges as human-readable text for settings UIs.
func (r ParameterRanges) DisplayInfo() string {
	return fmt.Sprintf("temperature %.1f-%.1f (default %.2f), top_p %.1f-%.1f (default %.2f)",
		r.Temperature.Min, r.Temperature.Max, r.Temperature.Default,
		r.TopP.Min, r.TopP.Max, r.TopP.Default)
}
