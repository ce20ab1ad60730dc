package pipeline

import (
	"strings"

	"revoice/internal/artifacts"
)

// StageName identifies one step of the fixed pipeline.
type StageName string

const (
	StageSeparation     StageName = "separation"
	StageConversion     StageName = "conversion"
	StagePostprocessing StageName = "postprocessing"
	StageAnalysis       StageName = "analysis"
)

// Definition is the immutable, process-wide description of a stage: its
// position in the total order, the stages that gate it, and the artifact
// kinds it consumes and produces. Only completion and artifact state is
// per-session.
type Definition struct {
	Name          StageName
	Ordinal       int
	Prerequisites []StageName
	Inputs        []artifacts.Kind
	Outputs       []artifacts.Kind
}

var definitions = []Definition{
	{
		Name:    StageSeparation,
		Ordinal: 0,
		Inputs:  []artifacts.Kind{artifacts.KindSourceAudio},
		Outputs: []artifacts.Kind{artifacts.KindVocalStem, artifacts.KindInstrumentalStem},
	},
	{
		Name:          StageConversion,
		Ordinal:       1,
		Prerequisites: []StageName{StageSeparation},
		Inputs:        []artifacts.Kind{artifacts.KindVocalStem},
		Outputs:       []artifacts.Kind{artifacts.KindConvertedVocal},
	},
	{
		Name:          StagePostprocessing,
		Ordinal:       2,
		Prerequisites: []StageName{StageConversion},
		Inputs:        []artifacts.Kind{artifacts.KindConvertedVocal, artifacts.KindInstrumentalStem},
		Outputs:       []artifacts.Kind{artifacts.KindMixedOutput},
	},
	{
		Name:          StageAnalysis,
		Ordinal:       3,
		Prerequisites: []StageName{StagePostprocessing},
		Inputs:        []artifacts.Kind{artifacts.KindMixedOutput},
		Outputs:       []artifacts.Kind{artifacts.KindAnalysisReport, artifacts.KindCoverArt},
	},
}

var definitionByName = func() map[StageName]Definition {
	m := make(map[StageName]Definition, len(definitions))
	for _, def := range definitions {
		m[def.Name] = def
	}
	return m
}()

// Stages returns the ordered stage definitions.
func Stages() []Definition {
	cp := make([]Definition, len(definitions))
	copy(cp, definitions)
	return cp
}

// StageNames returns the stage names in pipeline order.
func StageNames() []StageName {
	names := make([]StageName, len(definitions))
	for i, def := range definitions {
		names[i] = def.Name
	}
	return names
}

// Lookup resolves a stage definition by name.
func Lookup(name StageName) (Definition, bool) {
	def, ok := definitionByName[name]
	return def, ok
}

// ParseStageName converts a string into a known StageName.
func ParseStageName(value string) (StageName, bool) {
	normalized := StageName(strings.ToLower(strings.TrimSpace(value)))
	_, ok := definitionByName[normalized]
	return normalized, ok
}

// FromStage returns the named stage and every downstream stage in order.
// Used by the reset cascade and by re-runs of completed stages.
func FromStage(name StageName) []StageName {
	def, ok := definitionByName[name]
	if !ok {
		return nil
	}
	var result []StageName
	for _, d := range definitions {
		if d.Ordinal >= def.Ordinal {
			result = append(result, d.Name)
		}
	}
	return result
}

// Downstream returns the stages strictly after the named stage.
func Downstream(name StageName) []StageName {
	from := FromStage(name)
	if len(from) <= 1 {
		return nil
	}
	return from[1:]
}

// OutputKindsFrom collects the output artifact kinds of the named stage and
// every downstream stage. These are the artifacts invalidated by a reset or
// upstream re-run.
func OutputKindsFrom(name StageName) []artifacts.Kind {
	var kinds []artifacts.Kind
	for _, stageName := range FromStage(name) {
		def := definitionByName[stageName]
		kinds = append(kinds, def.Outputs...)
	}
	return kinds
}
