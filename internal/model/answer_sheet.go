package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerEntry is one (question, answer) pair. Entry order is question order
// and is preserved from sheet creation through submission.
type AnswerEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnswerSheet is one student's attempt at an exam.
type AnswerSheet struct {
	ID              uuid.UUID     `json:"id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	StudentID       uuid.UUID     `json:"student_id"`
	StudentName     string        `json:"student_name"`
	StudentEmail    string        `json:"student_email"`
	ExamType        ExamType      `json:"exam_type"`
	SetNumber       int           `json:"set_number"`
	Entries         []AnswerEntry `json:"entries"`
	CheatFlagCount  int           `json:"cheat_flag_count"`
	CheatFlagActive bool          `json:"cheat_flag_active"`
	SubmitStatus    bool          `json:"submit_status"`
	AIScore         *float64      `json:"ai_score,omitempty"`
	// DurationSeconds is copied from the exam at creation and immutable
	// afterwards. Remaining time is always derived from it and CreatedAt.
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// RemainingSeconds derives the remaining time from wall clock. It is never
// stored as a mutable countdown so a suspended client cannot drift it.
func (s *AnswerSheet) RemainingSeconds(now time.Time) int {
	elapsed := int(now.Sub(s.CreatedAt).Seconds())
	remaining := s.DurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AnsweredCount returns the number of non-blank answers.
func (s *AnswerSheet) AnsweredCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.Answer != "" {
			n++
		}
	}
	return n
}

// CreateSheetRequest is the payload for starting an exam attempt.
type CreateSheetRequest struct {
	ExamID uuid.UUID `json:"exam_id" binding:"required"`
}

// SubmitSheetRequest is the terminal submit payload: one entry per question,
// blank answers included, plus the optional AI score.
type SubmitSheetRequest struct {
	AnswerSheetID uuid.UUID     `json:"answer_sheet_id" binding:"required"`
	Answers       []AnswerEntry `json:"answers" binding:"required"`
	AIScore       *float64      `json:"ai_score"`
}

// UnlockSheetRequest carries the passcode to clear an active cheat flag.
type UnlockSheetRequest struct {
	Passcode string `json:"passcode" binding:"required"`
}

// RefreshSheetRequest carries the code required to force a new question set.
type RefreshSheetRequest struct {
	RefreshCode string `json:"refresh_code" binding:"required"`
}

// ScorePromptRequest is the payload for the AI scoring endpoint.
type ScorePromptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}
