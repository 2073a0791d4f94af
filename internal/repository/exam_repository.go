package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examify/examify-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, name, author_id, exam_type, duration_minutes, questions, status, created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	var questions []byte
	err := row.Scan(&e.ID, &e.Name, &e.AuthorID, &e.ExamType, &e.DurationMinutes,
		&questions, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questions, &e.Questions); err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// List retrieves every exam, newest first. The exam count per deployment is
// small so there is no pagination.
func (r *ExamRepository) List(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam in the stopped state.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (name, author_id, exam_type, duration_minutes, questions, status)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 RETURNING id, created_at, updated_at`,
		e.Name, e.AuthorID, e.ExamType, e.DurationMinutes, questions, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update rewrites the mutable exam fields.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exams
		 SET name = $2, duration_minutes = $3, questions = $4::jsonb, updated_at = NOW()
		 WHERE id = $1`,
		e.ID, e.Name, e.DurationMinutes, questions)
	return err
}

// SetStatus flips the start/stop gate for new attempts.
func (r *ExamRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	return err
}

// Delete removes an exam and, through cascading constraints, its sheets.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}
