package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examify/examify-backend/internal/model"
)

// Store mutation errors.
var (
	ErrAlreadySubmitted = errors.New("answer sheet already submitted")
	ErrFlagBlocked      = errors.New("answer sheet is blocked by an active cheat flag")
	ErrUnknownQuestion  = errors.New("question is not part of this sheet")
	ErrSubmitInFlight   = errors.New("submission already in progress")
)

// Store is the authoritative in-memory state of one active exam attempt.
// Exactly one runtime owns a store; all mutation goes through it. Remaining
// time is always derived from the immutable duration and creation time,
// never kept as a mutable countdown.
type Store struct {
	mu         sync.Mutex
	sheet      model.AnswerSheet
	index      map[string]int // question text → entry position
	submitting bool           // submission-in-progress latch
	now        func() time.Time
}

// NewStore wraps a loaded answer sheet. Entry order is preserved; question
// keys are unique by construction at sheet creation.
func NewStore(sheet model.AnswerSheet) *Store {
	s := &Store{
		sheet: sheet,
		now:   time.Now,
	}
	s.rebuildIndex()
	return s
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string]int, len(s.sheet.Entries))
	for i, e := range s.sheet.Entries {
		s.index[e.Question] = i
	}
}

// ID returns the sheet id.
func (s *Store) ID() string { return s.sheet.ID.String() }

// SheetID returns the sheet id as a UUID.
func (s *Store) SheetID() uuid.UUID { return s.sheet.ID }

// AnsweredCount reports how many questions carry a non-blank answer.
func (s *Store) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sheet.Entries {
		if e.Answer != "" {
			n++
		}
	}
	return n
}

// SetAnswer records one answer. Rejected once submitted, while a cheat
// flag blocks the session, or for a question outside the assigned set.
func (s *Store) SetAnswer(question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sheet.SubmitStatus {
		return ErrAlreadySubmitted
	}
	if s.sheet.CheatFlagActive {
		return ErrFlagBlocked
	}
	i, ok := s.index[question]
	if !ok {
		return ErrUnknownQuestion
	}
	s.sheet.Entries[i].Answer = answer
	return nil
}

// Answers returns a copy of the ordered entries, one per question, blank
// string where unanswered.
func (s *Store) Answers() []model.AnswerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AnswerEntry, len(s.sheet.Entries))
	copy(out, s.sheet.Entries)
	return out
}

// Snapshot returns a deep copy of the sheet.
func (s *Store) Snapshot() model.AnswerSheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet := s.sheet
	sheet.Entries = make([]model.AnswerEntry, len(s.sheet.Entries))
	copy(sheet.Entries, s.sheet.Entries)
	return sheet
}

// RaiseFlag marks the sheet as caught. Returns false (no-op) if a flag is
// already active or the sheet is submitted, which prevents double-counting
// under event storms.
func (s *Store) RaiseFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet.SubmitStatus || s.sheet.CheatFlagActive {
		return false
	}
	s.sheet.CheatFlagActive = true
	s.sheet.CheatFlagCount++
	return true
}

// ClearFlag lifts the blocking flag after a successful passcode check.
// Answers entered before the flag are preserved.
func (s *Store) ClearFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sheet.CheatFlagActive {
		return false
	}
	s.sheet.CheatFlagActive = false
	return true
}

// FlagActive reports whether the sheet is currently blocked.
func (s *Store) FlagActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.CheatFlagActive
}

// FlagCount returns the lifetime number of flags raised on this sheet.
func (s *Store) FlagCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.CheatFlagCount
}

// BeginSubmit acquires the single submission latch shared by the timer
// and manual submit paths. Returns false if the sheet is already submitted
// or another submission is in flight.
func (s *Store) BeginSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet.SubmitStatus || s.submitting {
		return false
	}
	s.submitting = true
	return true
}

// FailSubmit releases the latch after a failed terminal submit, leaving
// the sheet resubmittable.
func (s *Store) FailSubmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
}

// CompleteSubmit finalizes the sheet. Terminal: no further mutation.
func (s *Store) CompleteSubmit(aiScore *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheet.SubmitStatus = true
	s.sheet.AIScore = aiScore
	s.sheet.CheatFlagActive = false
	s.submitting = false
}

// Submitted reports whether the sheet reached its terminal state.
func (s *Store) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.SubmitStatus
}

// RemainingSeconds derives remaining time from wall clock.
func (s *Store) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.RemainingSeconds(s.now())
}

// ResetQuestionSet replaces the assigned questions after a teacher-forced
// refresh: all answers are cleared and the set number advances.
func (s *Store) ResetQuestionSet(questions []string, setNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sheet.SubmitStatus {
		return ErrAlreadySubmitted
	}
	entries := make([]model.AnswerEntry, len(questions))
	for i, q := range questions {
		entries[i] = model.AnswerEntry{Question: q}
	}
	s.sheet.Entries = entries
	s.sheet.SetNumber = setNumber
	s.rebuildIndex()
	return nil
}
