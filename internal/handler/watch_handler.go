package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/livefeed"
	"github.com/examify/examify-backend/internal/middleware"
	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/session"
	ws "github.com/examify/examify-backend/internal/websocket"
)

// examSource and rosterSource are the slices of the services the console
// stream needs. Satisfied by ExamService and SheetService.
type examSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

type rosterSource interface {
	Roster(ctx context.Context, examID uuid.UUID) ([]model.LiveSessionView, error)
}

// WatchHandler streams the live exam feed to teacher consoles. Each
// connection gets a roster snapshot and then per-sheet view updates as
// events are folded in.
type WatchHandler struct {
	sheets   rosterSource
	exams    examSource
	feeds    session.FeedSource
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWatchHandler(
	sheets rosterSource,
	exams examSource,
	feeds session.FeedSource,
	log zerolog.Logger,
	allowedOrigins []string,
) *WatchHandler {
	return &WatchHandler{
		sheets:   sheets,
		exams:    exams,
		feeds:    feeds,
		log:      log.With().Str("component", "watch_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// watchMessage is the console wire format: a snapshot on attach, then one
// update per folded event.
type watchMessage struct {
	Type     string                  `json:"type"`
	Sessions []model.LiveSessionView `json:"sessions,omitempty"`
	Session  *model.LiveSessionView  `json:"session,omitempty"`
}

// ExamWatch godoc
// WS /ws/v1/exams/:id/watch
func (h *WatchHandler) ExamWatch(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}
	if _, err := h.exams.GetByID(c.Request.Context(), examID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "exam not found"})
		return
	}

	// Subscribe before the snapshot is taken so no event can slip between
	// the two. Events already reflected in the snapshot re-merge cleanly;
	// the reverse order would lose anything published in the gap, and a
	// submit is the last event a sheet ever emits.
	events, stop := h.feeds.Subscribe(c.Request.Context(), examID.String())
	defer stop()

	roster, err := h.sheets.Roster(c.Request.Context(), examID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load roster"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	watchLog := h.log.With().
		Str("exam_id", examID.String()).
		Str("teacher_id", claims.UserID.String()).
		Logger()
	watchLog.Info().Msg("Teacher attached to live feed")

	reconciler := livefeed.NewReconciler(roster)
	if err := conn.WriteTyped(watchMessage{Type: "snapshot", Sessions: reconciler.Snapshot()}); err != nil {
		return
	}

	// Drain client frames so close handshakes and pings are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	reqCtx := c.Request.Context()
	for {
		select {
		case <-reqCtx.Done():
			watchLog.Info().Msg("Teacher detached from live feed")
			return
		case <-clientGone:
			watchLog.Info().Msg("Teacher connection closed")
			return
		case ev, open := <-events:
			if !open {
				return
			}
			view := reconciler.Apply(ev)
			if err := conn.WriteTyped(watchMessage{Type: "update", Session: &view}); err != nil {
				watchLog.Debug().Err(err).Msg("Write failed, closing")
				return
			}
		}
	}
}
