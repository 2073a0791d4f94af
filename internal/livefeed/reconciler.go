package livefeed

import (
	"sync"

	"github.com/google/uuid"

	"github.com/examify/examify-backend/internal/model"
)

// Reconciler folds partial sheet events into an ordered roster of live
// session views. Events carry only the fields that changed; absent fields
// keep their previous value, so replaying an event is harmless. Rows are
// appended in arrival order and never removed.
type Reconciler struct {
	mu    sync.Mutex
	views []model.LiveSessionView
	index map[uuid.UUID]int
}

func NewReconciler(initial []model.LiveSessionView) *Reconciler {
	r := &Reconciler{
		views: make([]model.LiveSessionView, len(initial)),
		index: make(map[uuid.UUID]int, len(initial)),
	}
	copy(r.views, initial)
	for i, v := range r.views {
		r.index[v.ID] = i
	}
	return r
}

// Apply merges one event and returns the resulting view for that sheet.
// Unknown sheet ids create a new row from whatever fields the event has.
func (r *Reconciler) Apply(ev model.SheetEvent) model.LiveSessionView {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[ev.AnswerSheet]
	if !ok {
		i = len(r.views)
		r.views = append(r.views, model.LiveSessionView{ID: ev.AnswerSheet})
		r.index[ev.AnswerSheet] = i
	}

	v := &r.views[i]
	if ev.StudentName != nil {
		v.StudentName = *ev.StudentName
	}
	if ev.StudentEmail != nil {
		v.StudentEmail = *ev.StudentEmail
	}
	if ev.CheatFlagActive != nil {
		v.CheatFlagActive = *ev.CheatFlagActive
	}
	if ev.AnsweredCount != nil {
		v.AnsweredCount = *ev.AnsweredCount
	}
	if ev.TotalCount != nil {
		v.TotalCount = *ev.TotalCount
	}
	if ev.SubmitStatus != nil {
		v.SubmitStatus = *ev.SubmitStatus
	}
	if ev.AIScore != nil {
		v.AIScore = ev.AIScore
	}
	if ev.QuestionSetReset {
		// A fresh set wipes previous progress on the board.
		v.AnsweredCount = 0
		if ev.Questions != nil {
			v.TotalCount = len(ev.Questions)
		}
	}
	return *v
}

// Snapshot returns a copy of the roster in arrival order.
func (r *Reconciler) Snapshot() []model.LiveSessionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LiveSessionView, len(r.views))
	copy(out, r.views)
	return out
}
