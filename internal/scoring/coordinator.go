package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/session"
)

// Scorer grades a finished answer set. Implemented by GeminiClient.
type Scorer interface {
	Score(ctx context.Context, entries []model.AnswerEntry) (float64, error)
}

// SheetSubmitter persists the final state of a sheet. The implementation
// must refuse a second submission for the same sheet and report it via the
// boolean, not an error.
type SheetSubmitter interface {
	Submit(ctx context.Context, sheetID uuid.UUID, entries []model.AnswerEntry, aiScore *float64) (bool, error)
}

// SubmitState is the slice of the session store the coordinator drives.
type SubmitState interface {
	BeginSubmit() bool
	FailSubmit()
	CompleteSubmit(aiScore *float64)
	Submitted() bool
	Snapshot() model.AnswerSheet
}

// Coordinator runs the submission pipeline: take the latch, score, persist,
// then release or complete the latch. Scoring failures never block the
// submission; the sheet lands with a null score instead.
type Coordinator struct {
	scorer  Scorer
	sheets  SheetSubmitter
	publish session.PublishFunc
	timeout time.Duration
	log     zerolog.Logger
}

func NewCoordinator(
	scorer Scorer,
	sheets SheetSubmitter,
	publish session.PublishFunc,
	timeout time.Duration,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		scorer:  scorer,
		sheets:  sheets,
		publish: publish,
		timeout: timeout,
		log:     log.With().Str("component", "scoring_coordinator").Logger(),
	}
}

// Submit finalizes a sheet exactly once. Concurrent callers lose the latch;
// a persistence failure releases it so the student can retry.
func (c *Coordinator) Submit(ctx context.Context, examID string, st SubmitState) (*float64, error) {
	if !st.BeginSubmit() {
		if st.Submitted() {
			return nil, session.ErrAlreadySubmitted
		}
		return nil, session.ErrSubmitInFlight
	}

	snap := st.Snapshot()
	score := c.scoreSheet(ctx, snap)

	stored, err := c.sheets.Submit(ctx, snap.ID, snap.Entries, score)
	if err != nil {
		st.FailSubmit()
		c.log.Error().Err(err).
			Str("answer_sheet_id", snap.ID.String()).
			Msg("failed to persist submission")
		return nil, err
	}
	if !stored {
		// Another path already submitted this sheet at the database level.
		st.CompleteSubmit(nil)
		return nil, session.ErrAlreadySubmitted
	}

	st.CompleteSubmit(score)

	submitted := true
	c.publish(ctx, examID, model.SheetEvent{
		AnswerSheet:  snap.ID,
		SubmitStatus: &submitted,
		AIScore:      score,
	})
	return score, nil
}

// scoreSheet asks the model for a grade. Internal exams are teacher-graded
// and skip the model entirely. Any failure yields a null score.
func (c *Coordinator) scoreSheet(ctx context.Context, snap model.AnswerSheet) *float64 {
	if c.scorer == nil || snap.ExamType == model.ExamTypeInternal {
		return nil
	}

	scoreCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, err := c.scorer.Score(scoreCtx, snap.Entries)
	if err != nil {
		c.log.Warn().Err(err).
			Str("answer_sheet_id", snap.ID.String()).
			Msg("scoring failed, submitting without score")
		return nil
	}
	return &value
}
