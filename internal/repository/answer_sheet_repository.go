package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examify/examify-backend/internal/model"
)

// AnswerSheetRepository handles attempt data access. Student identity and
// exam type are denormalized through joins; the sheet row itself stays
// narrow.
type AnswerSheetRepository struct {
	pool *pgxpool.Pool
}

func NewAnswerSheetRepository(pool *pgxpool.Pool) *AnswerSheetRepository {
	return &AnswerSheetRepository{pool: pool}
}

const sheetSelect = `
	SELECT s.id, s.exam_id, s.student_id, u.name, u.email, e.exam_type,
	       s.set_number, s.entries, s.cheat_flag_count, s.cheat_flag_active,
	       s.submit_status, s.ai_score, s.duration_seconds, s.created_at
	FROM answer_sheets s
	JOIN users u ON u.id = s.student_id
	JOIN exams e ON e.id = s.exam_id`

func scanSheet(row interface{ Scan(...any) error }) (*model.AnswerSheet, error) {
	s := &model.AnswerSheet{}
	var entries []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StudentName, &s.StudentEmail,
		&s.ExamType, &s.SetNumber, &entries, &s.CheatFlagCount, &s.CheatFlagActive,
		&s.SubmitStatus, &s.AIScore, &s.DurationSeconds, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entries, &s.Entries); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new sheet with its drawn question set.
func (r *AnswerSheetRepository) Create(ctx context.Context, s *model.AnswerSheet) error {
	entries, err := json.Marshal(s.Entries)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO answer_sheets (exam_id, student_id, set_number, entries, duration_seconds)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 RETURNING id, created_at`,
		s.ExamID, s.StudentID, s.SetNumber, entries, s.DurationSeconds,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetByID retrieves one sheet with student and exam context.
func (r *AnswerSheetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AnswerSheet, error) {
	return scanSheet(r.pool.QueryRow(ctx, sheetSelect+` WHERE s.id = $1`, id))
}

// GetOpenByStudent finds the student's unsubmitted sheet for an exam, if
// one exists. Reconnects resume it instead of drawing a new set.
func (r *AnswerSheetRepository) GetOpenByStudent(ctx context.Context, examID, studentID uuid.UUID) (*model.AnswerSheet, error) {
	return scanSheet(r.pool.QueryRow(ctx,
		sheetSelect+` WHERE s.exam_id = $1 AND s.student_id = $2 AND s.submit_status = FALSE
		 ORDER BY s.created_at DESC LIMIT 1`,
		examID, studentID))
}

// ListByExam retrieves every sheet of an exam in creation order.
func (r *AnswerSheetRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AnswerSheet, error) {
	rows, err := r.pool.Query(ctx,
		sheetSelect+` WHERE s.exam_id = $1 ORDER BY s.created_at ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []model.AnswerSheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, *s)
	}
	return sheets, rows.Err()
}

// ReplaceQuestionSet swaps in a freshly drawn set and bumps the set number.
// Previous answers are discarded with the old set.
func (r *AnswerSheetRepository) ReplaceQuestionSet(ctx context.Context, id uuid.UUID, entries []model.AnswerEntry, setNumber int) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE answer_sheets SET entries = $2::jsonb, set_number = $3
		 WHERE id = $1 AND submit_status = FALSE`,
		id, data, setNumber)
	return err
}

// AssignFlag raises the cheat flag and bumps the counter.
func (r *AnswerSheetRepository) AssignFlag(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE answer_sheets
		 SET cheat_flag_active = TRUE, cheat_flag_count = cheat_flag_count + 1
		 WHERE id = $1 AND submit_status = FALSE`,
		id)
	return err
}

// MarkFlagActive raises the active flag without touching the counter. The
// detection path uses it: the counter follows later with the audit batch,
// while the active state must never lag behind an unlock.
func (r *AnswerSheetRepository) MarkFlagActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE answer_sheets SET cheat_flag_active = TRUE
		 WHERE id = $1 AND submit_status = FALSE`,
		id)
	return err
}

// ClearFlag lowers the active flag. The counter keeps its history.
func (r *AnswerSheetRepository) ClearFlag(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE answer_sheets SET cheat_flag_active = FALSE
		 WHERE id = $1 AND submit_status = FALSE`,
		id)
	return err
}

// Submit finalizes the sheet. The submit_status guard in the WHERE clause
// makes this the exactly-once point: the second writer matches zero rows
// and gets false back.
func (r *AnswerSheetRepository) Submit(ctx context.Context, sheetID uuid.UUID, entries []model.AnswerEntry, aiScore *float64) (bool, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE answer_sheets
		 SET entries = $2::jsonb, ai_score = $3, submit_status = TRUE
		 WHERE id = $1 AND submit_status = FALSE`,
		sheetID, data, aiScore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
