package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/proctor"
)

type fakeFeed struct {
	events chan model.SheetEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan model.SheetEvent, 8)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, examID string) (<-chan model.SheetEvent, func()) {
	return f.events, func() {}
}

type nopReporter struct{}

func (nopReporter) ReportFlag(ctx context.Context, rec proctor.FlagRecord) error { return nil }

// publishRecorder collects published feed events.
type publishRecorder struct {
	mu     sync.Mutex
	events []model.SheetEvent
}

func (p *publishRecorder) publish(ctx context.Context, examID string, ev model.SheetEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *publishRecorder) all() []model.SheetEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SheetEvent, len(p.events))
	copy(out, p.events)
	return out
}

func newTestRuntime(t *testing.T, sheet model.AnswerSheet, submit SubmitFunc, feed FeedSource, rec *publishRecorder) *Runtime {
	t.Helper()
	store := NewStore(sheet)
	// Freeze the clock so countdowns in tests never fire on their own.
	store.now = func() time.Time { return sheet.CreatedAt }
	monitor := proctor.NewMonitor(
		sheet.ID, sheet.StudentID, sheet.ExamID,
		store, sheet.CheatFlagActive, nopReporter{}, zerolog.Nop(),
	)
	if submit == nil {
		submit = func(ctx context.Context) (*float64, error) { return nil, nil }
	}
	return NewRuntime(store, monitor, sheet.ExamID.String(), submit, rec.publish, feed, zerolog.Nop())
}

func TestRuntimeQuestionSetResetFromFeed(t *testing.T) {
	sheet := testSheet()
	feed := newFakeFeed()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, feed, rec)

	rt.Start(context.Background())
	defer rt.Close()

	require.NoError(t, rt.Store.SetAnswer("What is a goroutine?", "gone after reset"))

	setNumber := 2
	newSet := []string{"Explain paging.", "What is a TLB?", "Define thrashing."}
	feed.events <- model.SheetEvent{
		AnswerSheet:      sheet.ID,
		QuestionSetReset: true,
		SetNumber:        &setNumber,
		Questions:        newSet,
	}

	select {
	case n := <-rt.Notices():
		assert.Equal(t, NoticeReset, n.Kind)
		assert.Equal(t, 2, n.SetNumber)
		assert.Equal(t, newSet, n.Questions)
	case <-time.After(time.Second):
		t.Fatal("expected a reset notice")
	}

	snap := rt.Store.Snapshot()
	assert.Equal(t, 2, snap.SetNumber)
	assert.Equal(t, 0, rt.Store.AnsweredCount())
	assert.Equal(t, newSet[0], snap.Entries[0].Question)
}

func TestRuntimeIgnoresEventsForOtherSheets(t *testing.T) {
	sheet := testSheet()
	feed := newFakeFeed()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, feed, rec)

	rt.Start(context.Background())
	defer rt.Close()

	require.NoError(t, rt.Store.SetAnswer("What is a goroutine?", "kept"))

	setNumber := 5
	feed.events <- model.SheetEvent{
		AnswerSheet:      uuid.New(), // someone else's reset
		QuestionSetReset: true,
		SetNumber:        &setNumber,
		Questions:        []string{"other"},
	}
	// Progress events for this sheet are not resets.
	answered := 2
	feed.events <- model.SheetEvent{AnswerSheet: sheet.ID, AnsweredCount: &answered}

	select {
	case n := <-rt.Notices():
		t.Fatalf("unexpected notice: %v", n.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	snap := rt.Store.Snapshot()
	assert.Equal(t, 1, snap.SetNumber)
	assert.Equal(t, "kept", snap.Entries[0].Answer)
}

func TestRuntimeHandleEnvPublishesFlag(t *testing.T) {
	sheet := testSheet()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, newFakeFeed(), rec)

	flagged := rt.HandleEnv(context.Background(), proctor.EnvHidden)
	require.True(t, flagged)
	assert.True(t, rt.Store.FlagActive())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, sheet.ID, events[0].AnswerSheet)
	require.NotNil(t, events[0].CheatFlagActive)
	assert.True(t, *events[0].CheatFlagActive)

	// Storm repeats publish nothing.
	assert.False(t, rt.HandleEnv(context.Background(), proctor.EnvResized))
	assert.Len(t, rec.all(), 1)
}

func TestRuntimeRemoteFlagFromFeed(t *testing.T) {
	sheet := testSheet()
	feed := newFakeFeed()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, feed, rec)

	rt.Start(context.Background())
	defer rt.Close()

	active := true
	feed.events <- model.SheetEvent{AnswerSheet: sheet.ID, CheatFlagActive: &active}

	select {
	case n := <-rt.Notices():
		assert.Equal(t, NoticeFlagged, n.Kind)
		assert.Equal(t, 1, n.FlagCount)
	case <-time.After(time.Second):
		t.Fatal("expected a flagged notice")
	}

	assert.True(t, rt.Store.FlagActive())
	assert.Equal(t, proctor.StateUnlocking, rt.Monitor.State())
	// The raising side already put this event on the feed.
	assert.Empty(t, rec.all())
}

func TestRuntimeRemoteUnlockFromFeed(t *testing.T) {
	sheet := testSheet()
	feed := newFakeFeed()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, feed, rec)

	rt.Start(context.Background())
	defer rt.Close()

	require.True(t, rt.HandleEnv(context.Background(), proctor.EnvHidden))
	require.True(t, rt.Store.FlagActive())

	active := false
	feed.events <- model.SheetEvent{AnswerSheet: sheet.ID, CheatFlagActive: &active}

	select {
	case n := <-rt.Notices():
		assert.Equal(t, NoticeUnlocked, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected an unlocked notice")
	}

	assert.False(t, rt.Store.FlagActive())
	assert.Equal(t, proctor.StateClean, rt.Monitor.State())
}

func TestRuntimeOwnFlagEchoIsNoOp(t *testing.T) {
	sheet := testSheet()
	feed := newFakeFeed()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, feed, rec)

	rt.Start(context.Background())
	defer rt.Close()

	require.True(t, rt.HandleEnv(context.Background(), proctor.EnvHidden))

	// The flag event published above comes back on the shared feed.
	active := true
	feed.events <- model.SheetEvent{AnswerSheet: sheet.ID, CheatFlagActive: &active}

	select {
	case n := <-rt.Notices():
		t.Fatalf("unexpected notice: %v", n.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 1, rt.Store.FlagCount())
}

func TestRuntimeSetAnswerPublishesProgress(t *testing.T) {
	sheet := testSheet()
	rec := &publishRecorder{}
	rt := newTestRuntime(t, sheet, nil, newFakeFeed(), rec)

	require.NoError(t, rt.SetAnswer(context.Background(), "Explain channels.", "CSP"))

	events := rec.all()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].AnsweredCount)
	assert.Equal(t, 1, *events[0].AnsweredCount)
}

func TestRuntimeSubmitMarksMonitor(t *testing.T) {
	sheet := testSheet()
	rec := &publishRecorder{}
	score := 66.0
	submit := func(ctx context.Context) (*float64, error) {
		// Mimic the coordinator completing the store.
		return &score, nil
	}
	rt := newTestRuntime(t, sheet, submit, newFakeFeed(), rec)
	rt.Start(context.Background())

	got, err := rt.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 66.0, *got)
	assert.Equal(t, proctor.StateSubmitted, rt.Monitor.State())
}

func TestRuntimeTimedSubmitLatchLossIsSilent(t *testing.T) {
	for _, loss := range []error{ErrSubmitInFlight, ErrAlreadySubmitted} {
		t.Run(loss.Error(), func(t *testing.T) {
			sheet := testSheet()
			rec := &publishRecorder{}
			submit := func(ctx context.Context) (*float64, error) { return nil, loss }
			rt := newTestRuntime(t, sheet, submit, newFakeFeed(), rec)

			// The manual path holds the latch; the timer firing at the
			// same moment must not alarm the student.
			rt.submitNow(context.Background())

			select {
			case n := <-rt.Notices():
				t.Fatalf("unexpected notice: %v", n.Kind)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestRuntimeTimedSubmitFailureNotifies(t *testing.T) {
	sheet := testSheet()
	rec := &publishRecorder{}
	submit := func(ctx context.Context) (*float64, error) { return nil, assert.AnError }
	rt := newTestRuntime(t, sheet, submit, newFakeFeed(), rec)

	rt.submitNow(context.Background())

	select {
	case n := <-rt.Notices():
		assert.Equal(t, NoticeSubmitError, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a submit error notice")
	}
}

func TestRegistryOneRuntimePerSheet(t *testing.T) {
	created := 0
	reg := NewRegistry(context.Background(), func(sheet model.AnswerSheet) *Runtime {
		created++
		rec := &publishRecorder{}
		return newTestRuntime(t, sheet, nil, newFakeFeed(), rec)
	}, zerolog.Nop())

	sheet := testSheet()
	first := reg.Acquire(sheet)
	second := reg.Acquire(sheet)

	assert.Same(t, first, second)
	assert.Equal(t, 1, created)

	got, ok := reg.Get(sheet.ID)
	require.True(t, ok)
	assert.Same(t, first, got)

	reg.Remove(sheet.ID)
	_, ok = reg.Get(sheet.ID)
	assert.False(t, ok)

	third := reg.Acquire(sheet)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, created)
}
