package pipeline

// State is the lifecycle of one stage within a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateReady      State = "ready"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Flags is the minimal per-session record the stage states derive from. It
// mirrors what the session store persists: completion booleans, the single
// running claim, and the failed stage.
type Flags struct {
	Completed map[StageName]bool
	Running   StageName
	Failed    StageName
	// HasSource reports whether the session's source upload exists; it
	// gates the first stage's readiness.
	HasSource bool
}

// DeriveStates computes the full stage-state map from persisted flags.
//
// Rules, in precedence order per stage: a completion flag wins, then the
// running claim, then a recorded failure, then readiness (all prerequisites
// completed, and for the first stage an existing upload), else not started.
func DeriveStates(flags Flags) map[StageName]State {
	states := make(map[StageName]State, len(definitions))
	for _, def := range definitions {
		states[def.Name] = deriveState(def, flags)
	}
	return states
}

func deriveState(def Definition, flags Flags) State {
	if flags.Completed[def.Name] {
		return StateCompleted
	}
	if flags.Running == def.Name {
		return StateRunning
	}
	if flags.Failed == def.Name {
		return StateFailed
	}
	if prerequisitesMet(def, flags) {
		return StateReady
	}
	return StateNotStarted
}

func prerequisitesMet(def Definition, flags Flags) bool {
	if len(def.Prerequisites) == 0 {
		return flags.HasSource
	}
	for _, prereq := range def.Prerequisites {
		if !flags.Completed[prereq] {
			return false
		}
	}
	return true
}

// CurrentStage returns the pipeline's progress pointer: the running stage if
// one is claimed, otherwise the first stage that is not completed. Returns
// the empty name once every stage has completed.
func CurrentStage(flags Flags) StageName {
	if flags.Running != "" {
		return flags.Running
	}
	for _, def := range definitions {
		if !flags.Completed[def.Name] {
			return def.Name
		}
	}
	return ""
}

// Startable reports whether a stage may transition to Running given the
// current flags: it must be Ready or Failed (retry) or Completed (re-run,
// which cascades a downstream reset first). It also enforces the single
// running stage invariant.
func Startable(name StageName, flags Flags) bool {
	if flags.Running != "" {
		return false
	}
	def, ok := definitionByName[name]
	if !ok {
		return false
	}
	switch deriveState(def, flags) {
	case StateReady, StateFailed, StateCompleted:
		return true
	default:
		return false
	}
}
