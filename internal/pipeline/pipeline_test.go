package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"revoice/internal/artifacts"
	"revoice/internal/services"
)

func TestStageOrderIsFixed(t *testing.T) {
	want := []StageName{StageSeparation, StageConversion, StagePostprocessing, StageAnalysis}
	got := StageNames()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDeriveStatesInitial(t *testing.T) {
	states := DeriveStates(Flags{Completed: map[StageName]bool{}})
	for name, state := range states {
		if state != StateNotStarted {
			t.Fatalf("stage %s = %s before upload, want not_started", name, state)
		}
	}

	states = DeriveStates(Flags{Completed: map[StageName]bool{}, HasSource: true})
	if states[StageSeparation] != StateReady {
		t.Fatalf("separation = %s with upload present, want ready", states[StageSeparation])
	}
	if states[StageConversion] != StateNotStarted {
		t.Fatalf("conversion = %s, want not_started", states[StageConversion])
	}
}

func TestDeriveStatesGating(t *testing.T) {
	flags := Flags{
		Completed: map[StageName]bool{StageSeparation: true},
		HasSource: true,
	}
	states := DeriveStates(flags)
	if states[StageSeparation] != StateCompleted {
		t.Fatalf("separation = %s, want completed", states[StageSeparation])
	}
	if states[StageConversion] != StateReady {
		t.Fatalf("conversion = %s, want ready", states[StageConversion])
	}
	if states[StagePostprocessing] != StateNotStarted {
		t.Fatalf("postprocessing = %s, want not_started", states[StagePostprocessing])
	}
}

func TestDeriveStatesFailureBlocksDownstream(t *testing.T) {
	flags := Flags{
		Completed: map[StageName]bool{StageSeparation: true},
		Failed:    StageConversion,
		HasSource: true,
	}
	states := DeriveStates(flags)
	if states[StageConversion] != StateFailed {
		t.Fatalf("conversion = %s, want failed", states[StageConversion])
	}
	if states[StagePostprocessing] != StateNotStarted {
		t.Fatalf("postprocessing = %s after upstream failure, want not_started", states[StagePostprocessing])
	}
}

func TestStartableEnforcesSingleRunner(t *testing.T) {
	flags := Flags{
		Completed: map[StageName]bool{StageSeparation: true},
		Running:   StageConversion,
		HasSource: true,
	}
	for _, name := range StageNames() {
		if Startable(name, flags) {
			t.Fatalf("stage %s startable while conversion is running", name)
		}
	}
}

func TestStartableAllowsRetryAndRerun(t *testing.T) {
	flags := Flags{
		Completed: map[StageName]bool{StageSeparation: true},
		Failed:    StageConversion,
		HasSource: true,
	}
	if !Startable(StageConversion, flags) {
		t.Fatal("failed stage must be retryable")
	}
	if !Startable(StageSeparation, flags) {
		t.Fatal("completed stage must allow an explicit re-run")
	}
	if Startable(StagePostprocessing, flags) {
		t.Fatal("gated stage must not be startable")
	}
}

func TestCurrentStagePointer(t *testing.T) {
	flags := Flags{Completed: map[StageName]bool{StageSeparation: true}, HasSource: true}
	if got := CurrentStage(flags); got != StageConversion {
		t.Fatalf("current stage = %s, want conversion", got)
	}
	flags.Running = StageConversion
	if got := CurrentStage(flags); got != StageConversion {
		t.Fatalf("current stage = %s while running, want conversion", got)
	}
	all := map[StageName]bool{}
	for _, name := range StageNames() {
		all[name] = true
	}
	if got := CurrentStage(Flags{Completed: all, HasSource: true}); got != "" {
		t.Fatalf("current stage = %s when complete, want empty", got)
	}
}

func TestFromStageCascade(t *testing.T) {
	from := FromStage(StageConversion)
	want := []StageName{StageConversion, StagePostprocessing, StageAnalysis}
	if len(from) != len(want) {
		t.Fatalf("FromStage returned %v", from)
	}
	for i := range want {
		if from[i] != want[i] {
			t.Fatalf("FromStage[%d] = %s, want %s", i, from[i], want[i])
		}
	}

	kinds := OutputKindsFrom(StageConversion)
	wantKinds := []artifacts.Kind{artifacts.KindConvertedVocal, artifacts.KindMixedOutput, artifacts.KindAnalysisReport, artifacts.KindCoverArt}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("OutputKindsFrom returned %v", kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("OutputKindsFrom[%d] = %s, want %s", i, kinds[i], wantKinds[i])
		}
	}
}

func TestParseParamsConversionBounds(t *testing.T) {
	valid := json.RawMessage(`{"model_id":"voice-a","pitch_shift":2,"formant_shift":1.1}`)
	parsed, err := ParseParams(StageConversion, valid)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	params, ok := parsed.(ConversionParams)
	if !ok {
		t.Fatalf("unexpected type %T", parsed)
	}
	if params.Algorithm != "rmvpe" {
		t.Fatalf("algorithm default not applied: %q", params.Algorithm)
	}

	cases := []string{
		`{"model_id":"voice-a","pitch_shift":13}`,
		`{"model_id":"voice-a","formant_shift":0.2}`,
		`{"model_id":"voice-a","algorithm":"crepe"}`,
		`{"pitch_shift":1}`,
		`{"model_id":"voice-a","bogus":true}`,
	}
	for _, raw := range cases {
		if _, err := ParseParams(StageConversion, json.RawMessage(raw)); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("payload %s: expected validation error, got %v", raw, err)
		}
	}
}

func TestParseParamsDefaults(t *testing.T) {
	parsed, err := ParseParams(StagePostprocessing, nil)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	params := parsed.(PostprocessParams)
	if params.Preset != "studio" {
		t.Fatalf("preset default = %q, want studio", params.Preset)
	}

	if _, err := ParseParams(StagePostprocessing, json.RawMessage(`{"preset":"cathedral"}`)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown preset, got %v", err)
	}
	if _, err := ParseParams(StageSeparation, json.RawMessage(`{"sample_rate":4000}`)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for low sample rate, got %v", err)
	}
}
