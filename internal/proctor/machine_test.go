package proctor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func envAt(kind EnvKind) EnvEvent {
	return EnvEvent{Kind: kind, At: time.Now()}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name        string
		state       State
		event       Event
		wantState   State
		wantEffects []Effect
	}{
		{"clean env flags", StateClean, envAt(EnvHidden), StateFlagged, []Effect{EffectReportFlag}},
		{"clean resized flags", StateClean, envAt(EnvResized), StateFlagged, []Effect{EffectReportFlag}},
		{"clean unloading flags", StateClean, envAt(EnvUnloading), StateFlagged, []Effect{EffectReportFlag}},
		{"flagged env is noop", StateFlagged, envAt(EnvHidden), StateFlagged, nil},
		{"unlocking env is noop", StateUnlocking, envAt(EnvResized), StateUnlocking, nil},
		{"unlock ok clears", StateUnlocking, UnlockResult{OK: true}, StateClean, []Effect{EffectNotifyUnlocked}},
		{"unlock bad stays", StateUnlocking, UnlockResult{OK: false}, StateUnlocking, []Effect{EffectNotifyUnlockError}},
		{"unlock outside prompt is noop", StateClean, UnlockResult{OK: true}, StateClean, nil},
		{"submit from clean", StateClean, SubmitCompleted{}, StateSubmitted, nil},
		{"submit from unlocking", StateUnlocking, SubmitCompleted{}, StateSubmitted, nil},
		{"submitted absorbs env", StateSubmitted, envAt(EnvHidden), StateSubmitted, nil},
		{"submitted absorbs unlock", StateSubmitted, UnlockResult{OK: true}, StateSubmitted, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotState, gotEffects := Transition(tt.state, tt.event)
			assert.Equal(t, tt.wantState, gotState)
			assert.Equal(t, tt.wantEffects, gotEffects)
		})
	}
}

func TestStepAutoAdvancesToUnlocking(t *testing.T) {
	state, effects := Step(StateClean, envAt(EnvHidden))

	assert.Equal(t, StateUnlocking, state)
	assert.Equal(t, []Effect{EffectReportFlag, EffectPromptUnlock}, effects)
}

func TestStepEventStormReportsOnce(t *testing.T) {
	state := StateClean
	reports := 0

	// A hidden tab typically fires visibility, resize and unload handlers in
	// quick succession. Only the first transition may report.
	storm := []EnvEvent{
		envAt(EnvHidden), envAt(EnvResized), envAt(EnvHidden),
		envAt(EnvUnloading), envAt(EnvResized),
	}
	for _, ev := range storm {
		var effects []Effect
		state, effects = Step(state, ev)
		for _, eff := range effects {
			if eff == EffectReportFlag {
				reports++
			}
		}
	}

	assert.Equal(t, StateUnlocking, state)
	assert.Equal(t, 1, reports)
}

func TestStepFailedUnlockKeepsPrompt(t *testing.T) {
	state, _ := Step(StateClean, envAt(EnvHidden))

	state, effects := Step(state, UnlockResult{OK: false})
	assert.Equal(t, StateUnlocking, state)
	assert.Contains(t, effects, EffectNotifyUnlockError)

	// A later correct passcode still works.
	state, effects = Step(state, UnlockResult{OK: true})
	assert.Equal(t, StateClean, state)
	assert.Contains(t, effects, EffectNotifyUnlocked)
}

func TestSubmittedIsTerminal(t *testing.T) {
	state, _ := Step(StateClean, SubmitCompleted{})
	assert.Equal(t, StateSubmitted, state)

	for _, ev := range []Event{envAt(EnvHidden), UnlockResult{OK: true}, SubmitCompleted{}} {
		next, effects := Step(state, ev)
		assert.Equal(t, StateSubmitted, next)
		assert.Empty(t, effects)
	}
}
