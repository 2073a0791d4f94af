package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/repository"
	"github.com/examify/examify-backend/internal/session"
)

var (
	ErrSheetNotFound  = errors.New("answer sheet not found")
	ErrExamClosed     = errors.New("exam is not accepting new attempts")
	ErrSheetSubmitted = errors.New("answer sheet already submitted")
)

// SheetService manages answer sheet lifecycle outside the live runtime:
// creation, teacher interventions and the terminal REST submit.
type SheetService struct {
	sheets  *repository.AnswerSheetRepository
	exams   *ExamService
	auth    *AuthService
	publish session.PublishFunc
	log     zerolog.Logger
}

func NewSheetService(
	sheets *repository.AnswerSheetRepository,
	exams *ExamService,
	auth *AuthService,
	publish session.PublishFunc,
	log zerolog.Logger,
) *SheetService {
	return &SheetService{
		sheets:  sheets,
		exams:   exams,
		auth:    auth,
		publish: publish,
		log:     log.With().Str("component", "sheet_service").Logger(),
	}
}

// Create starts an attempt: draw a question set, copy the exam duration and
// announce the new session on the feed. When the student already has an
// open sheet for this exam, that sheet is resumed instead.
func (s *SheetService) Create(ctx context.Context, examID, studentID uuid.UUID) (*model.AnswerSheet, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusStart {
		return nil, ErrExamClosed
	}

	if open, err := s.sheets.GetOpenByStudent(ctx, examID, studentID); err == nil {
		return open, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	questions, err := s.exams.DrawQuestionSet(exam)
	if err != nil {
		return nil, err
	}
	entries := make([]model.AnswerEntry, len(questions))
	for i, q := range questions {
		entries[i] = model.AnswerEntry{Question: q}
	}

	sheet := &model.AnswerSheet{
		ExamID:          examID,
		StudentID:       studentID,
		SetNumber:       1,
		Entries:         entries,
		DurationSeconds: exam.DurationMinutes * 60,
	}
	if err := s.sheets.Create(ctx, sheet); err != nil {
		return nil, err
	}

	// Fill the joined fields the insert does not return.
	sheet, err = s.sheets.GetByID(ctx, sheet.ID)
	if err != nil {
		return nil, err
	}

	answered := 0
	total := len(sheet.Entries)
	submitted := false
	s.publish(ctx, examID.String(), model.SheetEvent{
		AnswerSheet:   sheet.ID,
		StudentName:   &sheet.StudentName,
		StudentEmail:  &sheet.StudentEmail,
		AnsweredCount: &answered,
		TotalCount:    &total,
		SubmitStatus:  &submitted,
	})

	s.log.Info().
		Str("answer_sheet_id", sheet.ID.String()).
		Str("exam_id", examID.String()).
		Msg("answer sheet created")
	return sheet, nil
}

func (s *SheetService) GetByID(ctx context.Context, id uuid.UUID) (*model.AnswerSheet, error) {
	sheet, err := s.sheets.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSheetNotFound
	}
	return sheet, err
}

func (s *SheetService) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.AnswerSheet, error) {
	return s.sheets.ListByExam(ctx, examID)
}

// Roster projects the current sheets of an exam into live session views,
// used as the initial snapshot for a teacher console.
func (s *SheetService) Roster(ctx context.Context, examID uuid.UUID) ([]model.LiveSessionView, error) {
	sheets, err := s.sheets.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	views := make([]model.LiveSessionView, 0, len(sheets))
	for _, sheet := range sheets {
		views = append(views, model.LiveSessionView{
			ID:              sheet.ID,
			StudentName:     sheet.StudentName,
			StudentEmail:    sheet.StudentEmail,
			CheatFlagActive: sheet.CheatFlagActive,
			AnsweredCount:   sheet.AnsweredCount(),
			TotalCount:      len(sheet.Entries),
			SubmitStatus:    sheet.SubmitStatus,
			AIScore:         sheet.AIScore,
		})
	}
	return views, nil
}

// AssignFlag raises the cheat flag from the REST surface. The live runtime,
// when one exists, reacts to the feed event like any other listener.
func (s *SheetService) AssignFlag(ctx context.Context, id uuid.UUID) error {
	sheet, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sheet.SubmitStatus {
		return ErrSheetSubmitted
	}
	if err := s.sheets.AssignFlag(ctx, id); err != nil {
		return err
	}
	active := true
	s.publish(ctx, sheet.ExamID.String(), model.SheetEvent{
		AnswerSheet:     id,
		CheatFlagActive: &active,
	})
	return nil
}

// MarkFlagActive persists the active flag for a detection raised inside a
// live runtime. The feed event was already published by the runtime and
// the audit row travels through the flag queue; only the column write is
// synchronous here.
func (s *SheetService) MarkFlagActive(ctx context.Context, id uuid.UUID) error {
	return s.sheets.MarkFlagActive(ctx, id)
}

// Unlock verifies the teacher passcode and clears the active flag. Answers
// collected before the flag survive.
func (s *SheetService) Unlock(ctx context.Context, id uuid.UUID, passcode string) error {
	if err := s.auth.VerifyUnlockPasscode(passcode); err != nil {
		return err
	}
	sheet, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sheet.SubmitStatus {
		return ErrSheetSubmitted
	}
	if err := s.sheets.ClearFlag(ctx, id); err != nil {
		return err
	}
	active := false
	s.publish(ctx, sheet.ExamID.String(), model.SheetEvent{
		AnswerSheet:     id,
		CheatFlagActive: &active,
	})
	return nil
}

// Refresh verifies the refresh code, draws a brand-new question set and
// bumps the set number. The live runtime picks the reset up from the feed
// and blanks its local answers.
func (s *SheetService) Refresh(ctx context.Context, id uuid.UUID, refreshCode string) (*model.AnswerSheet, error) {
	if err := s.auth.VerifyRefreshCode(refreshCode); err != nil {
		return nil, err
	}
	sheet, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sheet.SubmitStatus {
		return nil, ErrSheetSubmitted
	}
	exam, err := s.exams.GetByID(ctx, sheet.ExamID)
	if err != nil {
		return nil, err
	}
	questions, err := s.exams.DrawQuestionSet(exam)
	if err != nil {
		return nil, err
	}

	entries := make([]model.AnswerEntry, len(questions))
	for i, q := range questions {
		entries[i] = model.AnswerEntry{Question: q}
	}
	setNumber := sheet.SetNumber + 1
	if err := s.sheets.ReplaceQuestionSet(ctx, id, entries, setNumber); err != nil {
		return nil, err
	}

	sheet.Entries = entries
	sheet.SetNumber = setNumber

	answered := 0
	total := len(entries)
	s.publish(ctx, sheet.ExamID.String(), model.SheetEvent{
		AnswerSheet:      id,
		AnsweredCount:    &answered,
		TotalCount:       &total,
		QuestionSetReset: true,
		SetNumber:        &setNumber,
		Questions:        questions,
	})

	s.log.Info().
		Str("answer_sheet_id", id.String()).
		Int("set_number", setNumber).
		Msg("question set refreshed")
	return sheet, nil
}

// SubmitDirect is the REST submit path. The database guard keeps it
// exactly-once against the live runtime's own submission.
func (s *SheetService) SubmitDirect(ctx context.Context, req model.SubmitSheetRequest) (*model.AnswerSheet, error) {
	sheet, err := s.GetByID(ctx, req.AnswerSheetID)
	if err != nil {
		return nil, err
	}

	stored, err := s.sheets.Submit(ctx, req.AnswerSheetID, req.Answers, req.AIScore)
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, ErrSheetSubmitted
	}

	submitted := true
	s.publish(ctx, sheet.ExamID.String(), model.SheetEvent{
		AnswerSheet:  req.AnswerSheetID,
		SubmitStatus: &submitted,
		AIScore:      req.AIScore,
	})
	return s.GetByID(ctx, req.AnswerSheetID)
}
