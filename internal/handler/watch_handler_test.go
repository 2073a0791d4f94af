package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examify/examify-backend/internal/middleware"
	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/service"
)

type stubExamSource struct {
	exam *model.Exam
}

func (s *stubExamSource) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exam, nil
}

// watchFixture plays both the roster and the feed side of the console
// stream and records the order the handler touches them in.
type watchFixture struct {
	mu     sync.Mutex
	calls  []string
	roster []model.LiveSessionView
	events chan model.SheetEvent
}

func newWatchFixture(roster []model.LiveSessionView) *watchFixture {
	return &watchFixture{
		roster: roster,
		events: make(chan model.SheetEvent, 4),
	}
}

func (f *watchFixture) record(step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
}

func (f *watchFixture) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *watchFixture) Roster(ctx context.Context, examID uuid.UUID) ([]model.LiveSessionView, error) {
	f.record("roster")
	return f.roster, nil
}

func (f *watchFixture) Subscribe(ctx context.Context, examID string) (<-chan model.SheetEvent, func()) {
	f.record("subscribe")
	return f.events, func() {}
}

func newWatchServer(t *testing.T, fx *watchFixture, exam *model.Exam) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWatchHandler(fx, &stubExamSource{exam: exam}, fx, zerolog.Nop(), nil)
	r.GET("/ws/v1/exams/:id/watch", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{
			UserID:    uuid.New(),
			TokenType: service.TokenTypeTeacher,
		})
		h.ExamWatch(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWatch(t *testing.T, srv *httptest.Server, examID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "/ws/v1/exams/" + examID.String() + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func TestExamWatchAttachesBeforeSnapshot(t *testing.T) {
	exam := &model.Exam{ID: uuid.New()}
	fx := newWatchFixture([]model.LiveSessionView{
		{ID: uuid.New(), StudentName: "Ana", TotalCount: 3},
	})

	// A sheet submits while the roster query is still running. The
	// console must still see it as an update after the snapshot.
	submittedID := uuid.New()
	submitted := true
	fx.events <- model.SheetEvent{AnswerSheet: submittedID, SubmitStatus: &submitted}

	srv := newWatchServer(t, fx, exam)
	conn := dialWatch(t, srv, exam.ID)

	var snapshot watchMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, "Ana", snapshot.Sessions[0].StudentName)

	var update watchMessage
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "update", update.Type)
	require.NotNil(t, update.Session)
	assert.Equal(t, submittedID, update.Session.ID)
	assert.True(t, update.Session.SubmitStatus)

	calls := fx.order()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []string{"subscribe", "roster"}, calls[:2])
}

func TestExamWatchStreamsUpdates(t *testing.T) {
	exam := &model.Exam{ID: uuid.New()}
	sheetID := uuid.New()
	fx := newWatchFixture([]model.LiveSessionView{
		{ID: sheetID, StudentName: "Ben", TotalCount: 3},
	})

	srv := newWatchServer(t, fx, exam)
	conn := dialWatch(t, srv, exam.ID)

	var snapshot watchMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Equal(t, "snapshot", snapshot.Type)

	answered := 2
	fx.events <- model.SheetEvent{AnswerSheet: sheetID, AnsweredCount: &answered}

	var update watchMessage
	require.NoError(t, conn.ReadJSON(&update))
	require.NotNil(t, update.Session)
	assert.Equal(t, sheetID, update.Session.ID)
	assert.Equal(t, 2, update.Session.AnsweredCount)
	assert.Equal(t, 3, update.Session.TotalCount)
}

func TestExamWatchRejectsWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	fx := newWatchFixture(nil)
	h := NewWatchHandler(fx, &stubExamSource{exam: &model.Exam{ID: uuid.New()}}, fx, zerolog.Nop(), nil)
	r.GET("/ws/v1/exams/:id/watch", h.ExamWatch)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/v1/exams/"+uuid.NewString()+"/watch", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, fx.order())
}
