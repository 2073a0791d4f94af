package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/session"
)

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(ctx context.Context, entries []model.AnswerEntry) (float64, error) {
	args := m.Called(ctx, entries)
	return args.Get(0).(float64), args.Error(1)
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, sheetID uuid.UUID, entries []model.AnswerEntry, aiScore *float64) (bool, error) {
	args := m.Called(ctx, sheetID, entries, aiScore)
	return args.Bool(0), args.Error(1)
}

type eventSink struct {
	mu     sync.Mutex
	events []model.SheetEvent
}

func (s *eventSink) publish(ctx context.Context, examID string, ev model.SheetEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func scoringSheet(examType model.ExamType) model.AnswerSheet {
	return model.AnswerSheet{
		ID:        uuid.New(),
		ExamID:    uuid.New(),
		StudentID: uuid.New(),
		ExamType:  examType,
		SetNumber: 1,
		Entries: []model.AnswerEntry{
			{Question: "Q1", Answer: "first"},
			{Question: "Q2", Answer: "second"},
			{Question: "Q3"}, // unanswered, submitted blank
		},
		DurationSeconds: 600,
		CreatedAt:       time.Now(),
	}
}

func newTestCoordinator(scorer Scorer, sheets SheetSubmitter, sink *eventSink) *Coordinator {
	return NewCoordinator(scorer, sheets, sink.publish, 5*time.Second, zerolog.Nop())
}

func TestCoordinatorSubmitWithScore(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeExternal)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	scorer.On("Score", mock.Anything, mock.Anything).Return(88.0, nil).Once()

	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.MatchedBy(func(entries []model.AnswerEntry) bool {
		// Every question is present, answered or not.
		return len(entries) == 3 && entries[2].Answer == ""
	}), mock.Anything).Return(true, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	score, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 88.0, *score)
	assert.True(t, st.Submitted())

	require.Len(t, sink.events, 1)
	require.NotNil(t, sink.events[0].SubmitStatus)
	assert.True(t, *sink.events[0].SubmitStatus)
	require.NotNil(t, sink.events[0].AIScore)
	assert.Equal(t, 88.0, *sink.events[0].AIScore)

	scorer.AssertExpectations(t)
	sheets.AssertExpectations(t)
}

func TestCoordinatorScoringFailureSubmitsNullScore(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeViva)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	scorer.On("Score", mock.Anything, mock.Anything).Return(0.0, assert.AnError).Once()

	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, (*float64)(nil)).Return(true, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	score, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.NoError(t, err)
	assert.Nil(t, score, "a scoring failure must not block submission")
	assert.True(t, st.Submitted())

	sheets.AssertExpectations(t)
}

func TestCoordinatorInternalExamSkipsScorer(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeInternal)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, (*float64)(nil)).Return(true, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	score, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.NoError(t, err)
	assert.Nil(t, score)

	scorer.AssertNotCalled(t, "Score", mock.Anything, mock.Anything)
	sheets.AssertExpectations(t)
}

func TestCoordinatorPersistFailureIsRetryable(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeExternal)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	scorer.On("Score", mock.Anything, mock.Anything).Return(40.0, nil).Twice()

	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, mock.Anything).
		Return(false, assert.AnError).Once()
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, mock.Anything).
		Return(true, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	_, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.Error(t, err)
	assert.False(t, st.Submitted(), "failed persistence must leave the sheet open")

	// The latch was released; the retry goes through.
	score, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.NoError(t, err)
	require.NotNil(t, score)
	assert.Equal(t, 40.0, *score)
	assert.True(t, st.Submitted())

	sheets.AssertExpectations(t)
}

func TestCoordinatorSecondSubmitRejected(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeExternal)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	scorer.On("Score", mock.Anything, mock.Anything).Return(55.0, nil).Once()

	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, mock.Anything).Return(true, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	_, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), sheet.ExamID.String(), st)
	assert.ErrorIs(t, err, session.ErrAlreadySubmitted)

	sheets.AssertExpectations(t)
}

func TestCoordinatorInFlightSubmitRejected(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeExternal)
	st := session.NewStore(sheet)

	// Another path holds the latch.
	require.True(t, st.BeginSubmit())

	c := newTestCoordinator(new(mockScorer), new(mockSubmitter), &eventSink{})
	_, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	assert.ErrorIs(t, err, session.ErrSubmitInFlight)
}

func TestCoordinatorDatabaseGuardWins(t *testing.T) {
	sheet := scoringSheet(model.ExamTypeExternal)
	st := session.NewStore(sheet)

	scorer := new(mockScorer)
	scorer.On("Score", mock.Anything, mock.Anything).Return(70.0, nil).Once()

	// Another instance already submitted this sheet at the database level.
	sheets := new(mockSubmitter)
	sheets.On("Submit", mock.Anything, sheet.ID, mock.Anything, mock.Anything).Return(false, nil).Once()

	sink := &eventSink{}
	c := newTestCoordinator(scorer, sheets, sink)

	_, err := c.Submit(context.Background(), sheet.ExamID.String(), st)
	assert.ErrorIs(t, err, session.ErrAlreadySubmitted)
	assert.True(t, st.Submitted(), "local state follows the database")
	assert.Empty(t, sink.events, "the winner already announced the submission")
}
