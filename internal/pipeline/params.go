package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"revoice/internal/services"
)

// SeparationParams configures the stem-separation stage.
type SeparationParams struct {
	// Model selects the separation model; empty uses the configured default.
	Model string `json:"model,omitempty"`
	// SampleRate resamples the stems when non-zero.
	SampleRate int `json:"sample_rate,omitempty"`
}

// ConversionParams configures the voice-conversion stage.
type ConversionParams struct {
	ModelID      string  `json:"model_id"`
	PitchShift   int     `json:"pitch_shift"`
	FormantShift float64 `json:"formant_shift"`
	// Algorithm selects the pitch extraction method: pm, harvest, or rmvpe.
	Algorithm string `json:"algorithm,omitempty"`
}

// PostprocessParams configures the effect and mix stage.
type PostprocessParams struct {
	// Preset is one of dry, studio, live.
	Preset             string  `json:"preset,omitempty"`
	VocalGainDB        float64 `json:"vocal_gain_db,omitempty"`
	InstrumentalGainDB float64 `json:"instrumental_gain_db,omitempty"`
}

// AnalysisParams configures the lyric analysis and artwork stage.
type AnalysisParams struct {
	Lyrics      string `json:"lyrics,omitempty"`
	GenreHint   string `json:"genre_hint,omitempty"`
	GenerateArt bool   `json:"generate_art,omitempty"`
}

const (
	MinPitchShift   = -12
	MaxPitchShift   = 12
	MinFormantShift = 0.5
	MaxFormantShift = 2.0
	MinGainDB       = -12.0
	MaxGainDB       = 12.0
)

var conversionAlgorithms = map[string]struct{}{
	"pm":      {},
	"harvest": {},
	"rmvpe":   {},
}

var postprocessPresets = map[string]struct{}{
	"dry":    {},
	"studio": {},
	"live":   {},
}

// ParseParams decodes and validates raw JSON parameters against the named
// stage's schema. Unknown fields and out-of-range values reject the
// invocation before any external operation runs. A nil or empty payload
// yields the stage's defaults.
func ParseParams(stage StageName, raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	switch stage {
	case StageSeparation:
		var params SeparationParams
		if err := decodeStrict(stage, raw, &params); err != nil {
			return nil, err
		}
		if params.SampleRate != 0 && (params.SampleRate < 8000 || params.SampleRate > 192000) {
			return nil, validationError(stage, fmt.Sprintf("sample_rate must be 0 or within 8000..192000, got %d", params.SampleRate))
		}
		return params, nil

	case StageConversion:
		var params ConversionParams
		if err := decodeStrict(stage, raw, &params); err != nil {
			return nil, err
		}
		if params.ModelID == "" {
			return nil, validationError(stage, "model_id is required")
		}
		if params.PitchShift < MinPitchShift || params.PitchShift > MaxPitchShift {
			return nil, validationError(stage, fmt.Sprintf("pitch_shift must be within %d..%d, got %d", MinPitchShift, MaxPitchShift, params.PitchShift))
		}
		if params.FormantShift == 0 {
			params.FormantShift = 1.0
		}
		if params.FormantShift < MinFormantShift || params.FormantShift > MaxFormantShift {
			return nil, validationError(stage, fmt.Sprintf("formant_shift must be within %.1f..%.1f, got %g", MinFormantShift, MaxFormantShift, params.FormantShift))
		}
		if params.Algorithm == "" {
			params.Algorithm = "rmvpe"
		}
		if _, ok := conversionAlgorithms[params.Algorithm]; !ok {
			return nil, validationError(stage, fmt.Sprintf("algorithm must be pm, harvest, or rmvpe, got %q", params.Algorithm))
		}
		return params, nil

	case StagePostprocessing:
		var params PostprocessParams
		if err := decodeStrict(stage, raw, &params); err != nil {
			return nil, err
		}
		if params.Preset == "" {
			params.Preset = "studio"
		}
		if _, ok := postprocessPresets[params.Preset]; !ok {
			return nil, validationError(stage, fmt.Sprintf("preset must be dry, studio, or live, got %q", params.Preset))
		}
		if params.VocalGainDB < MinGainDB || params.VocalGainDB > MaxGainDB {
			return nil, validationError(stage, fmt.Sprintf("vocal_gain_db must be within %.0f..%.0f, got %g", MinGainDB, MaxGainDB, params.VocalGainDB))
		}
		if params.InstrumentalGainDB < MinGainDB || params.InstrumentalGainDB > MaxGainDB {
			return nil, validationError(stage, fmt.Sprintf("instrumental_gain_db must be within %.0f..%.0f, got %g", MinGainDB, MaxGainDB, params.InstrumentalGainDB))
		}
		return params, nil

	case StageAnalysis:
		var params AnalysisParams
		if err := decodeStrict(stage, raw, &params); err != nil {
			return nil, err
		}
		return params, nil

	default:
		return nil, validationError(stage, "unknown stage")
	}
}

func decodeStrict(stage StageName, raw json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return services.Wrap(services.ErrValidation, string(stage), "parse parameters", "invalid parameter payload", err)
	}
	return nil
}

func validationError(stage StageName, message string) error {
	return services.Wrap(services.ErrValidation, string(stage), "validate parameters", message, nil)
}
