package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamType enumerates the question delivery modes.
//   - internal: no free-text answers are collected
//   - external: paginated single-question-at-a-time navigation
//   - viva: all questions on one page, larger question draw
type ExamType string

const (
	ExamTypeInternal ExamType = "internal"
	ExamTypeExternal ExamType = "external"
	ExamTypeViva     ExamType = "viva"
)

// ExamStatus gates whether students may start new attempts.
type ExamStatus string

const (
	ExamStatusStart ExamStatus = "start"
	ExamStatusStop  ExamStatus = "stop"
)

// Exam is read-only to the session engine: sheets copy its duration and
// draw their question set from its pool at creation time.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	AuthorID        uuid.UUID  `json:"author_id"`
	ExamType        ExamType   `json:"exam_type"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []string   `json:"questions"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// QuestionSetSize returns how many questions one sheet draws from the pool.
func (e *Exam) QuestionSetSize() int {
	if e.ExamType == ExamTypeViva {
		return 10
	}
	return 3
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Name            string   `json:"name" binding:"required,min=3,max=255"`
	ExamType        ExamType `json:"exam_type" binding:"required,oneof=internal external viva"`
	DurationMinutes int      `json:"duration_minutes" binding:"required,min=1,max=480"`
	Questions       []string `json:"questions" binding:"required,min=1,unique,dive,required"`
}

// UpdateExamRequest is the payload for updating an existing exam.
type UpdateExamRequest struct {
	Name            string   `json:"name" binding:"omitempty,min=3,max=255"`
	DurationMinutes int      `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	Questions       []string `json:"questions" binding:"omitempty,min=1,unique,dive,required"`
}
