package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examify/examify-backend/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
	Setup()
}

func bindBody(t *testing.T, body string, dst interface{}) map[string]string {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBindAcceptsValidExam(t *testing.T) {
	var req model.CreateExamRequest
	fields := bindBody(t, `{
		"name": "Midterm",
		"exam_type": "external",
		"duration_minutes": 60,
		"questions": ["Q1", "Q2", "Q3"]
	}`, &req)

	require.Nil(t, fields)
	assert.Equal(t, model.ExamTypeExternal, req.ExamType)
	assert.Len(t, req.Questions, 3)
}

func TestBindRejectsDuplicateQuestions(t *testing.T) {
	// A pool with two identical texts would let one answer shadow the
	// other on the sheet, so it is rejected at the door.
	var req model.CreateExamRequest
	fields := bindBody(t, `{
		"name": "Midterm",
		"exam_type": "external",
		"duration_minutes": 60,
		"questions": ["Q1", "Q2", "Q1"]
	}`, &req)

	require.NotNil(t, fields)
	assert.Contains(t, fields, "questions")
}

func TestBindRejectsDuplicateQuestionsOnUpdate(t *testing.T) {
	var req model.UpdateExamRequest
	fields := bindBody(t, `{"questions": ["Q1", "Q1"]}`, &req)

	require.NotNil(t, fields)
	assert.Contains(t, fields, "questions")
}

func TestBindTranslatesFieldErrors(t *testing.T) {
	var req model.CreateExamRequest
	fields := bindBody(t, `{"exam_type": "external", "duration_minutes": 60, "questions": ["Q1"]}`, &req)

	require.NotNil(t, fields)
	assert.Contains(t, fields, "name")
}

func TestBindMalformedJSON(t *testing.T) {
	var req model.CreateExamRequest
	fields := bindBody(t, `{not json`, &req)

	require.NotNil(t, fields)
	assert.Contains(t, fields, "detail")
}
