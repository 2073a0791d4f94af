package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SheetState is the slice of the session store the monitor mutates.
type SheetState interface {
	RaiseFlag() bool
	ClearFlag() bool
	Submitted() bool
}

// Reporter delivers a flag record to the remote persistence path.
// Delivery is best-effort: a failed report is logged and never retried
// inline, and the local state change stands regardless.
type Reporter interface {
	ReportFlag(ctx context.Context, rec FlagRecord) error
}

// FlagRecord is one cheat-flag occurrence for the audit trail.
type FlagRecord struct {
	SheetID   uuid.UUID `json:"sheet_id"`
	StudentID uuid.UUID `json:"student_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	Kind      EnvKind   `json:"kind"`
	Timestamp int64     `json:"timestamp"`
}

// Monitor drives the cheat-flag state machine for one answer sheet. It is
// safe for the WebSocket read loop and REST handlers to call concurrently.
type Monitor struct {
	mu       sync.Mutex
	state    State
	sheetID  uuid.UUID
	studentID uuid.UUID
	examID   uuid.UUID
	sheet    SheetState
	reporter Reporter
	log      zerolog.Logger
}

// NewMonitor creates a monitor. If the sheet already carries an active
// flag (reloaded session), the machine starts at Unlocking so the student
// is prompted again instead of silently resuming.
func NewMonitor(sheetID, studentID, examID uuid.UUID, sheet SheetState, flagActive bool, reporter Reporter, log zerolog.Logger) *Monitor {
	state := StateClean
	if sheet.Submitted() {
		state = StateSubmitted
	} else if flagActive {
		state = StateUnlocking
	}
	return &Monitor{
		state:     state,
		sheetID:   sheetID,
		studentID: studentID,
		examID:    examID,
		sheet:     sheet,
		reporter:  reporter,
		log:       log.With().Str("component", "proctor_monitor").Str("sheet_id", sheetID.String()).Logger(),
	}
}

// State returns the current machine state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleEnv feeds one environment event through the machine. Returns true
// when the event raised a new flag (exactly once per Clean period).
func (m *Monitor) HandleEnv(ctx context.Context, ev EnvEvent) bool {
	m.mu.Lock()

	if m.sheet.Submitted() {
		m.state = StateSubmitted
		m.mu.Unlock()
		return false
	}

	next, effects := Step(m.state, ev)
	m.state = next
	m.mu.Unlock()

	flagged := false
	for _, eff := range effects {
		switch eff {
		case EffectReportFlag:
			if m.sheet.RaiseFlag() {
				flagged = true
				m.report(ctx, ev.Kind)
			}
		case EffectPromptUnlock:
			// Surfaced to the client by the caller together with the flag.
		}
	}
	return flagged
}

// ApplyRemoteFlag applies a flag that was raised outside this session,
// typically by a teacher through the REST surface, observed on the exam
// feed. The machine steps exactly as for a local event but no report is
// queued: the raising side already persisted the flag. Returns true when
// the machine actually moved to the lock screen.
func (m *Monitor) ApplyRemoteFlag() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sheet.Submitted() {
		m.state = StateSubmitted
		return false
	}

	next, effects := Step(m.state, EnvEvent{At: time.Now()})
	m.state = next

	flagged := false
	for _, eff := range effects {
		if eff == EffectReportFlag {
			flagged = m.sheet.RaiseFlag()
		}
	}
	return flagged
}

// ApplyUnlock feeds a server-side passcode verification result through the
// machine. On success the local flag is cleared; answers are preserved.
func (m *Monitor) ApplyUnlock(ok bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, effects := Step(m.state, UnlockResult{OK: ok})
	m.state = next

	for _, eff := range effects {
		if eff == EffectNotifyUnlocked {
			m.sheet.ClearFlag()
		}
	}
	return next
}

// MarkSubmitted moves the machine to its terminal state.
func (m *Monitor) MarkSubmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, _ = Step(m.state, SubmitCompleted{})
}

// report pushes the flag record to the persistence queue. Losing a report
// to a transient failure is acceptable; double-counting is not, and is
// prevented by the machine's idempotency guard upstream.
func (m *Monitor) report(ctx context.Context, kind EnvKind) {
	rec := FlagRecord{
		SheetID:   m.sheetID,
		StudentID: m.studentID,
		ExamID:    m.examID,
		Kind:      kind,
		Timestamp: time.Now().Unix(),
	}
	if err := m.reporter.ReportFlag(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("kind", string(kind)).Msg("Flag report failed, continuing")
	}
}
