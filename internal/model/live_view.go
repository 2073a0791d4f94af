package model

import "github.com/google/uuid"

// LiveSessionView is the teacher-facing projection of one active session.
// It exists only for the lifetime of a console connection and is built by
// folding SheetEvents; it is never persisted.
type LiveSessionView struct {
	ID              uuid.UUID `json:"id"`
	StudentName     string    `json:"student_name"`
	StudentEmail    string    `json:"student_email"`
	CheatFlagActive bool      `json:"cheat_flag_active"`
	AnsweredCount   int       `json:"answered_count"`
	TotalCount      int       `json:"total_count"`
	SubmitStatus    bool      `json:"submit_status"`
	AIScore         *float64  `json:"ai_score,omitempty"`
}

// SheetEvent is a partial session update pushed over the exam feed channel.
// Only AnswerSheet is mandatory; absent fields (nil pointers) leave the
// corresponding view fields untouched when merged, so events are
// independently idempotent regardless of delivery order.
type SheetEvent struct {
	AnswerSheet     uuid.UUID `json:"answer_sheet"`
	StudentName     *string   `json:"student_name,omitempty"`
	StudentEmail    *string   `json:"student_email,omitempty"`
	CheatFlagActive *bool     `json:"cheat_flag_active,omitempty"`
	AnsweredCount   *int      `json:"answered_count,omitempty"`
	TotalCount      *int      `json:"total_count,omitempty"`
	SubmitStatus    *bool     `json:"submit_status,omitempty"`
	AIScore         *float64  `json:"ai_score,omitempty"`
	// QuestionSetReset signals that a teacher forced a new question set.
	// A session receiving this for its own sheet clears local answers.
	QuestionSetReset bool     `json:"question_set_reset,omitempty"`
	SetNumber        *int     `json:"set_number,omitempty"`
	Questions        []string `json:"questions,omitempty"`
}
