package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/middleware"
	"github.com/examify/examify-backend/internal/proctor"
	"github.com/examify/examify-backend/internal/service"
	"github.com/examify/examify-backend/internal/session"
	"github.com/examify/examify-backend/internal/worker"
	ws "github.com/examify/examify-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs the student session stream: answers in, cheat flags and
// countdown outcomes out.
type WSHandler struct {
	rdb          *redis.Client
	sheetService *service.SheetService
	authService  *service.AuthService
	registry     *session.Registry
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

func NewWSHandler(
	rdb *redis.Client,
	sheetService *service.SheetService,
	authService *service.AuthService,
	registry *session.Registry,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:          rdb,
		sheetService: sheetService,
		authService:  authService,
		registry:     registry,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
	}
}

// SheetStream godoc
// WS /ws/v1/sheets/:id/stream
// Attaches the student to the live runtime of their sheet.
func (h *WSHandler) SheetStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sheetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sheet ID"})
		return
	}

	sheet, err := h.sheetService.GetByID(c.Request.Context(), sheetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sheet not found"})
		return
	}
	if sheet.StudentID != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your sheet"})
		return
	}
	if sheet.SubmitStatus {
		c.JSON(http.StatusConflict, gin.H{"error": "sheet already submitted"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	rt := h.registry.Acquire(*sheet)

	wsLog := h.log.With().
		Str("answer_sheet_id", sheetID.String()).
		Str("student_id", claims.UserID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Reconnects land on the lock screen if a flag is still active.
	if rt.Store.FlagActive() {
		conn.WriteTyped(ws.FlaggedResponse{
			Event:     ws.EventFlagged,
			FlagCount: rt.Store.FlagCount(),
			Reason:    "reconnected while flagged",
		})
	}

	forwardDone := make(chan struct{})
	go h.forwardNotices(conn, rt, wsLog, forwardDone)
	defer close(forwardDone)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, rt, &msg)
		case ws.ActionEnv:
			h.handleEnv(conn, rt, &msg)
		case ws.ActionUnlock:
			h.handleUnlock(conn, rt, sheetID, msg.Passcode)
		case ws.ActionSubmit:
			if done := h.handleSubmit(conn, rt, sheetID, wsLog); done {
				return
			}
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// handleAnswer stores one answer and queues a snapshot for persistence.
func (h *WSHandler) handleAnswer(conn *ws.Conn, rt *session.Runtime, msg *ws.RequestPayload) {
	ctx := context.Background()

	if msg.Question == "" {
		conn.WriteError("question is required")
		return
	}

	if err := rt.SetAnswer(ctx, msg.Question, msg.Answer); err != nil {
		switch {
		case errors.Is(err, session.ErrFlagBlocked):
			conn.WriteError("session is locked by a cheat flag")
		case errors.Is(err, session.ErrAlreadySubmitted):
			conn.WriteError("sheet already submitted")
		case errors.Is(err, session.ErrUnknownQuestion):
			conn.WriteError("question is not part of this sheet")
		default:
			conn.WriteError("save failed")
		}
		return
	}

	worker.EnqueueSnapshot(ctx, h.rdb, h.log, worker.AnswerSnapshot{
		SheetID: rt.Store.SheetID(),
		Entries: rt.Store.Answers(),
	})

	conn.WriteTyped(ws.AnswerResponse{
		Event:    ws.EventSuccess,
		Status:   "saved",
		Answered: rt.Store.AnsweredCount(),
	})
}

// handleEnv feeds one environment signal to the monitor. The lock screen is
// pushed only when a new flag was raised; repeats while locked are no-ops.
// The active flag is written to the database synchronously so a reload
// between now and the audit batch cannot observe a stale state.
func (h *WSHandler) handleEnv(conn *ws.Conn, rt *session.Runtime, msg *ws.RequestPayload) {
	kind := proctor.EnvKind(msg.Event)
	switch kind {
	case proctor.EnvHidden, proctor.EnvResized, proctor.EnvUnloading:
	default:
		conn.WriteError("unknown environment event: " + msg.Event)
		return
	}

	ctx := context.Background()
	if rt.HandleEnv(ctx, kind) {
		if err := h.sheetService.MarkFlagActive(ctx, rt.Store.SheetID()); err != nil {
			h.log.Error().Err(err).
				Str("answer_sheet_id", rt.Store.SheetID().String()).
				Msg("Failed to persist active flag")
		}
		conn.WriteTyped(ws.FlaggedResponse{
			Event:     ws.EventFlagged,
			FlagCount: rt.Store.FlagCount(),
			Reason:    msg.Event,
		})
	}
}

// handleUnlock verifies the teacher passcode typed on the lock screen.
func (h *WSHandler) handleUnlock(conn *ws.Conn, rt *session.Runtime, sheetID uuid.UUID, passcode string) {
	ctx := context.Background()

	err := h.sheetService.Unlock(ctx, sheetID, passcode)
	if err != nil {
		rt.ApplyUnlock(ctx, false)
		if errors.Is(err, service.ErrPasscodeMismatch) {
			conn.WriteError("passcode mismatch")
			return
		}
		conn.WriteError("unlock failed")
		return
	}

	rt.ApplyUnlock(ctx, true)
	conn.WriteTyped(ws.UnlockedResponse{Event: ws.EventUnlocked, Status: "unlocked"})
}

// handleSubmit runs the full submission pipeline. Returns true when the
// connection should end.
func (h *WSHandler) handleSubmit(conn *ws.Conn, rt *session.Runtime, sheetID uuid.UUID, wsLog zerolog.Logger) bool {
	score, err := rt.Submit(context.Background())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadySubmitted):
			conn.WriteError("sheet already submitted")
			return true
		case errors.Is(err, session.ErrSubmitInFlight):
			conn.WriteError("submission already in progress")
			return false
		default:
			wsLog.Error().Err(err).Msg("Submission failed")
			conn.WriteError("submission failed, try again")
			return false
		}
	}

	h.registry.Remove(sheetID)
	conn.WriteTyped(ws.SubmittedResponse{
		Event:  ws.EventSubmitted,
		Status: "submitted",
		Score:  score,
	})
	wsLog.Info().Msg("Sheet submitted over stream")
	return true
}

// forwardNotices pushes runtime-originated messages (countdown submission,
// forced question set resets, feed-observed flag changes) to the client
// until the connection ends.
func (h *WSHandler) forwardNotices(conn *ws.Conn, rt *session.Runtime, wsLog zerolog.Logger, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n := <-rt.Notices():
			switch n.Kind {
			case session.NoticeSubmitted:
				conn.WriteTyped(ws.SubmittedResponse{
					Event:  ws.EventSubmitted,
					Status: "time expired",
					Score:  n.AIScore,
				})
				h.registry.Remove(rt.Store.SheetID())
				conn.Close()
				return
			case session.NoticeSubmitError:
				conn.WriteError("timed submission failed")
			case session.NoticeReset:
				conn.WriteTyped(ws.ResetResponse{
					Event:     ws.EventReset,
					SetNumber: n.SetNumber,
					Questions: n.Questions,
				})
			case session.NoticeFlagged:
				conn.WriteTyped(ws.FlaggedResponse{
					Event:     ws.EventFlagged,
					FlagCount: n.FlagCount,
					Reason:    "flagged by proctor",
				})
			case session.NoticeUnlocked:
				conn.WriteTyped(ws.UnlockedResponse{Event: ws.EventUnlocked, Status: "unlocked"})
			default:
				wsLog.Warn().Str("kind", string(n.Kind)).Msg("Unknown notice")
			}
		}
	}
}
