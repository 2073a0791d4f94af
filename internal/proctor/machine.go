package proctor

import "time"

// State is the cheat-detection state of one answer sheet.
type State string

const (
	// StateClean: no active flag, the student may work.
	StateClean State = "clean"
	// StateFlagged: a suspicious environment event was caught; blocking.
	StateFlagged State = "flagged"
	// StateUnlocking: the passcode prompt is shown; still blocking.
	StateUnlocking State = "unlocking"
	// StateSubmitted: terminal. No transitions are possible afterwards.
	StateSubmitted State = "submitted"
)

// EnvKind identifies a suspicious environment signal from the client.
type EnvKind string

const (
	EnvHidden    EnvKind = "hidden"    // document lost visibility
	EnvResized   EnvKind = "resized"   // viewport was resized
	EnvUnloading EnvKind = "unloading" // navigation/close attempt
)

// Event is an input to the cheat-flag state machine.
type Event interface{ isEvent() }

// EnvEvent is a typed environment signal.
type EnvEvent struct {
	Kind EnvKind
	At   time.Time
}

// UnlockResult carries the outcome of a server-side passcode check.
type UnlockResult struct {
	OK bool
}

// SubmitCompleted moves the machine to its terminal state.
type SubmitCompleted struct{}

func (EnvEvent) isEvent()        {}
func (UnlockResult) isEvent()    {}
func (SubmitCompleted) isEvent() {}

// Effect is a side-effect intent emitted by a transition. The machine never
// performs effects itself; the monitor executes them.
type Effect int

const (
	// EffectReportFlag: report the new flag to the persistence queue.
	EffectReportFlag Effect = iota
	// EffectPromptUnlock: show the passcode prompt to the student.
	EffectPromptUnlock
	// EffectNotifyUnlocked: tell the student the flag was cleared.
	EffectNotifyUnlocked
	// EffectNotifyUnlockError: surface a passcode mismatch; state unchanged.
	EffectNotifyUnlockError
)

// Transition is the pure single-step transition function. Repeated env
// events while already flagged or unlocking are no-ops, which is what makes
// flag counting idempotent under event storms.
func Transition(s State, ev Event) (State, []Effect) {
	if s == StateSubmitted {
		return s, nil
	}

	switch e := ev.(type) {
	case EnvEvent:
		if s == StateClean {
			return StateFlagged, []Effect{EffectReportFlag}
		}
		return s, nil

	case UnlockResult:
		if s != StateUnlocking {
			return s, nil
		}
		if e.OK {
			return StateClean, []Effect{EffectNotifyUnlocked}
		}
		return StateUnlocking, []Effect{EffectNotifyUnlockError}

	case SubmitCompleted:
		return StateSubmitted, nil
	}

	return s, nil
}

// Auto returns the automatic follow-up transition for a state, if any.
// Flagged advances to Unlocking immediately: the flag and the passcode
// prompt appear together.
func Auto(s State) (State, []Effect, bool) {
	if s == StateFlagged {
		return StateUnlocking, []Effect{EffectPromptUnlock}, true
	}
	return s, nil, false
}

// Step applies one event and then any automatic transitions, collecting
// all emitted effects.
func Step(s State, ev Event) (State, []Effect) {
	next, effects := Transition(s, ev)
	for {
		auto, autoEffects, ok := Auto(next)
		if !ok {
			break
		}
		next = auto
		effects = append(effects, autoEffects...)
	}
	return next, effects
}
