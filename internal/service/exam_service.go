package service

import (
	"context"
	"errors"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/repository"
)

var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrNotEnoughQuestions = errors.New("question pool is smaller than the set size")
)

// ExamService manages the exam catalogue and question draws.
type ExamService struct {
	exams *repository.ExamRepository
	log   zerolog.Logger
}

func NewExamService(exams *repository.ExamRepository, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams: exams,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// Create registers a new exam in the stopped state. The pool must be large
// enough for at least one full question draw.
func (s *ExamService) Create(ctx context.Context, authorID uuid.UUID, req model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Name:            req.Name,
		AuthorID:        authorID,
		ExamType:        req.ExamType,
		DurationMinutes: req.DurationMinutes,
		Questions:       req.Questions,
		Status:          model.ExamStatusStop,
	}
	if len(exam.Questions) < exam.QuestionSetSize() {
		return nil, ErrNotEnoughQuestions
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, err
	}
	s.log.Info().Str("exam_id", exam.ID.String()).Str("name", exam.Name).Msg("exam created")
	return exam, nil
}

func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

func (s *ExamService) List(ctx context.Context) ([]model.Exam, error) {
	return s.exams.List(ctx)
}

// Update rewrites the mutable fields. The exam type is fixed at creation
// because the set size depends on it.
func (s *ExamService) Update(ctx context.Context, id uuid.UUID, req model.UpdateExamRequest) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		exam.Name = req.Name
	}
	if req.DurationMinutes > 0 {
		exam.DurationMinutes = req.DurationMinutes
	}
	if req.Questions != nil {
		if len(req.Questions) < exam.QuestionSetSize() {
			return nil, ErrNotEnoughQuestions
		}
		exam.Questions = req.Questions
	}
	if err := s.exams.Update(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// SetStatus opens or closes the exam for new attempts. Running sessions are
// unaffected.
func (s *ExamService) SetStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return s.exams.SetStatus(ctx, id, status)
}

func (s *ExamService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return s.exams.Delete(ctx, id)
}

// DrawQuestionSet picks a random subset of the pool sized for the exam
// type. Order within the set is the shuffled order.
func (s *ExamService) DrawQuestionSet(exam *model.Exam) ([]string, error) {
	size := exam.QuestionSetSize()
	if len(exam.Questions) < size {
		return nil, ErrNotEnoughQuestions
	}
	pool := make([]string, len(exam.Questions))
	copy(pool, exam.Questions)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	return pool[:size], nil
}
