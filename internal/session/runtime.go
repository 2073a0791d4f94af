package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/proctor"
)

// SubmitFunc finalizes a sheet and returns the AI score, if any. It must be
// safe to call from both the countdown goroutine and the client connection.
type SubmitFunc func(ctx context.Context) (*float64, error)

// PublishFunc broadcasts a sheet event on the exam feed. Best effort.
type PublishFunc func(ctx context.Context, examID string, ev model.SheetEvent)

// FeedSource delivers the exam feed to a running session. The returned stop
// function releases the subscription.
type FeedSource interface {
	Subscribe(ctx context.Context, examID string) (<-chan model.SheetEvent, func())
}

type NoticeKind string

const (
	NoticeSubmitted   NoticeKind = "submitted"
	NoticeSubmitError NoticeKind = "submit_error"
	NoticeReset       NoticeKind = "question_set_reset"
	NoticeFlagged     NoticeKind = "flagged"
	NoticeUnlocked    NoticeKind = "unlocked"
)

// Notice is an out-of-band message for the connected student, produced by
// goroutines the client did not trigger directly (countdown, feed watcher).
type Notice struct {
	Kind      NoticeKind
	AIScore   *float64
	Questions []string
	SetNumber int
	FlagCount int
}

// Runtime owns the live state of one open answer sheet: the in-memory store,
// the anti-cheat monitor, the countdown goroutine and the feed watcher.
type Runtime struct {
	Store   *Store
	Monitor *proctor.Monitor

	examID  string
	submit  SubmitFunc
	publish PublishFunc
	feed    FeedSource

	notices   chan Notice
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       zerolog.Logger
}

func NewRuntime(
	store *Store,
	monitor *proctor.Monitor,
	examID string,
	submit SubmitFunc,
	publish PublishFunc,
	feed FeedSource,
	log zerolog.Logger,
) *Runtime {
	return &Runtime{
		Store:   store,
		Monitor: monitor,
		examID:  examID,
		submit:  submit,
		publish: publish,
		feed:    feed,
		notices: make(chan Notice, 8),
		log:     log.With().Str("component", "session_runtime").Logger(),
	}
}

// Start launches the countdown and the feed watcher. The runtime stops both
// when Close is called or when the sheet is submitted.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	countdown := NewCountdown(r.Store, func() {
		r.submitNow(context.Background())
	}, r.log)
	go countdown.Run(runCtx)
	go r.watchFeed(runCtx)
}

// Notices returns the out-of-band channel for the connected client. Messages
// are dropped when the buffer is full rather than blocking the runtime.
func (r *Runtime) Notices() <-chan Notice {
	return r.notices
}

// HandleEnv feeds one environment event into the anti-cheat monitor and
// reports the resulting flag on the exam feed. Returns true when this event
// raised a new flag.
func (r *Runtime) HandleEnv(ctx context.Context, kind proctor.EnvKind) bool {
	flagged := r.Monitor.HandleEnv(ctx, proctor.EnvEvent{Kind: kind, At: time.Now()})
	if flagged {
		active := true
		r.publish(ctx, r.examID, model.SheetEvent{
			AnswerSheet:     r.Store.SheetID(),
			CheatFlagActive: &active,
		})
	}
	return flagged
}

// SetAnswer records one answer and mirrors the progress on the exam feed.
func (r *Runtime) SetAnswer(ctx context.Context, question, answer string) error {
	if err := r.Store.SetAnswer(question, answer); err != nil {
		return err
	}
	answered := r.Store.AnsweredCount()
	r.publish(ctx, r.examID, model.SheetEvent{
		AnswerSheet:   r.Store.SheetID(),
		AnsweredCount: &answered,
	})
	return nil
}

// ApplyUnlock resolves a pending unlock attempt. On success the flag is
// cleared locally and the feed is informed.
func (r *Runtime) ApplyUnlock(ctx context.Context, ok bool) {
	r.Monitor.ApplyUnlock(ok)
	if ok {
		active := false
		r.publish(ctx, r.examID, model.SheetEvent{
			AnswerSheet:     r.Store.SheetID(),
			CheatFlagActive: &active,
		})
	}
}

// Submit finalizes the sheet on the student's request. The same path is used
// by the countdown, guarded by the store's submission latch so only one of
// them wins.
func (r *Runtime) Submit(ctx context.Context) (*float64, error) {
	score, err := r.submit(ctx)
	if err != nil {
		return nil, err
	}
	r.Monitor.MarkSubmitted()
	r.Close()
	return score, nil
}

// submitNow is the countdown path. Failures are reported to the client as a
// notice because there is no request to attach the error to.
func (r *Runtime) submitNow(ctx context.Context) {
	score, err := r.submit(ctx)
	if err != nil {
		// Losing the latch to a manual submit is not a failure; the manual
		// path reports the outcome to the student itself.
		if errors.Is(err, ErrSubmitInFlight) || errors.Is(err, ErrAlreadySubmitted) {
			return
		}
		r.log.Error().Err(err).
			Str("answer_sheet_id", r.Store.SheetID().String()).
			Msg("timed submission failed")
		r.sendNotice(Notice{Kind: NoticeSubmitError})
		return
	}
	r.Monitor.MarkSubmitted()
	r.sendNotice(Notice{Kind: NoticeSubmitted, AIScore: score})
	r.Close()
}

// watchFeed reacts to feed events addressed to this sheet: teacher-forced
// question set resets and flag changes raised on the REST surface or on
// another instance. Events echoing this runtime's own actions re-apply as
// no-ops because the store transitions are idempotent.
func (r *Runtime) watchFeed(ctx context.Context) {
	events, stop := r.feed.Subscribe(ctx, r.examID)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.AnswerSheet != r.Store.SheetID() {
				continue
			}
			switch {
			case ev.QuestionSetReset:
				r.applyReset(ev)
			case ev.CheatFlagActive != nil:
				r.applyRemoteFlag(*ev.CheatFlagActive)
			}
		}
	}
}

func (r *Runtime) applyReset(ev model.SheetEvent) {
	setNumber := 0
	if ev.SetNumber != nil {
		setNumber = *ev.SetNumber
	}
	if err := r.Store.ResetQuestionSet(ev.Questions, setNumber); err != nil {
		r.log.Warn().Err(err).
			Str("answer_sheet_id", r.Store.SheetID().String()).
			Msg("question set reset ignored")
		return
	}
	r.sendNotice(Notice{
		Kind:      NoticeReset,
		Questions: ev.Questions,
		SetNumber: setNumber,
	})
}

// applyRemoteFlag mirrors a flag change observed on the feed into the local
// monitor so a teacher-raised flag locks the live session immediately.
func (r *Runtime) applyRemoteFlag(active bool) {
	if active {
		if r.Monitor.ApplyRemoteFlag() {
			r.sendNotice(Notice{Kind: NoticeFlagged, FlagCount: r.Store.FlagCount()})
		}
		return
	}
	if r.Store.FlagActive() {
		r.Monitor.ApplyUnlock(true)
		r.sendNotice(Notice{Kind: NoticeUnlocked})
	}
}

func (r *Runtime) sendNotice(n Notice) {
	select {
	case r.notices <- n:
	default:
		r.log.Warn().Str("kind", string(n.Kind)).Msg("notice dropped, client buffer full")
	}
}

// Close stops the countdown and the feed watcher. Safe to call repeatedly.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}
