package livefeed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examify/examify-backend/internal/model"
)

func strPtr(s string) *string    { return &s }
func boolPtr(b bool) *bool       { return &b }
func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestReconcilerMergesPartialEvents(t *testing.T) {
	id := uuid.New()
	r := NewReconciler(nil)

	r.Apply(model.SheetEvent{
		AnswerSheet:  id,
		StudentName:  strPtr("Alice"),
		StudentEmail: strPtr("alice@example.com"),
		TotalCount:   intPtr(3),
	})
	view := r.Apply(model.SheetEvent{
		AnswerSheet:   id,
		AnsweredCount: intPtr(2),
	})

	// The second event touched only the answer count.
	assert.Equal(t, "Alice", view.StudentName)
	assert.Equal(t, "alice@example.com", view.StudentEmail)
	assert.Equal(t, 2, view.AnsweredCount)
	assert.Equal(t, 3, view.TotalCount)
}

func TestReconcilerInsertsUnknownSheet(t *testing.T) {
	known := model.LiveSessionView{ID: uuid.New(), StudentName: "Bob"}
	r := NewReconciler([]model.LiveSessionView{known})

	newID := uuid.New()
	view := r.Apply(model.SheetEvent{
		AnswerSheet: newID,
		StudentName: strPtr("Carol"),
	})
	assert.Equal(t, newID, view.ID)
	assert.Equal(t, "Carol", view.StudentName)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, known.ID, snap[0].ID)
	assert.Equal(t, newID, snap[1].ID)
}

func TestReconcilerKeepsArrivalOrder(t *testing.T) {
	r := NewReconciler(nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		r.Apply(model.SheetEvent{AnswerSheet: id})
	}

	// Updating the first row must not reorder the roster.
	r.Apply(model.SheetEvent{AnswerSheet: ids[0], AnsweredCount: intPtr(1)})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, id := range ids {
		assert.Equal(t, id, snap[i].ID)
	}
}

func TestReconcilerQuestionSetResetClearsProgress(t *testing.T) {
	id := uuid.New()
	r := NewReconciler([]model.LiveSessionView{{
		ID:            id,
		StudentName:   "Dave",
		AnsweredCount: 7,
		TotalCount:    10,
	}})

	view := r.Apply(model.SheetEvent{
		AnswerSheet:      id,
		QuestionSetReset: true,
		SetNumber:        intPtr(2),
		Questions:        []string{"Q1", "Q2", "Q3"},
	})

	assert.Equal(t, 0, view.AnsweredCount)
	assert.Equal(t, 3, view.TotalCount)
	assert.Equal(t, "Dave", view.StudentName)
}

func TestReconcilerSubmitAndScore(t *testing.T) {
	id := uuid.New()
	r := NewReconciler(nil)

	view := r.Apply(model.SheetEvent{
		AnswerSheet:  id,
		SubmitStatus: boolPtr(true),
		AIScore:      floatPtr(91.0),
	})
	assert.True(t, view.SubmitStatus)
	require.NotNil(t, view.AIScore)
	assert.Equal(t, 91.0, *view.AIScore)

	// Replaying the same event changes nothing.
	again := r.Apply(model.SheetEvent{
		AnswerSheet:  id,
		SubmitStatus: boolPtr(true),
		AIScore:      floatPtr(91.0),
	})
	assert.Equal(t, view, again)
}

func TestReconcilerSnapshotIsACopy(t *testing.T) {
	id := uuid.New()
	r := NewReconciler([]model.LiveSessionView{{ID: id, AnsweredCount: 1}})

	snap := r.Snapshot()
	snap[0].AnsweredCount = 99

	assert.Equal(t, 1, r.Snapshot()[0].AnsweredCount)
}
