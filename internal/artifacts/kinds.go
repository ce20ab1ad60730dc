package artifacts

import "strings"

// Kind identifies the role of a stored file within a session.
type Kind string

const (
	KindSourceAudio      Kind = "source_audio"
	KindReferenceVoice   Kind = "reference_voice"
	KindVocalStem        Kind = "vocal_stem"
	KindInstrumentalStem Kind = "instrumental_stem"
	KindConvertedVocal   Kind = "converted_vocal"
	KindMixedOutput      Kind = "mixed_output"
	KindAnalysisReport   Kind = "analysis_report"
	KindCoverArt         Kind = "cover_art"
)

var allKinds = []Kind{
	KindSourceAudio,
	KindReferenceVoice,
	KindVocalStem,
	KindInstrumentalStem,
	KindConvertedVocal,
	KindMixedOutput,
	KindAnalysisReport,
	KindCoverArt,
}

var kindSet = func() map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(allKinds))
	for _, kind := range allKinds {
		set[kind] = struct{}{}
	}
	return set
}()

// Uploads and generated outputs live in separate subdirectories so a reset
// can clear derived files without touching user uploads.
var kindDirs = map[Kind]string{
	KindSourceAudio:      "uploads",
	KindReferenceVoice:   "uploads",
	KindVocalStem:        "stems",
	KindInstrumentalStem: "stems",
	KindConvertedVocal:   "converted",
	KindMixedOutput:      "mix",
	KindAnalysisReport:   "analysis",
	KindCoverArt:         "artwork",
}

// AllKinds returns the ordered list of known artifact kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := kindSet[normalized]
	return normalized, ok
}

// Subdir returns the per-session subdirectory a kind is stored under.
func (k Kind) Subdir() string {
	if dir, ok := kindDirs[k]; ok {
		return dir
	}
	return "misc"
}
