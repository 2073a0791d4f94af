package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/examify/examify-backend/internal/middleware"
	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/response"
	"github.com/examify/examify-backend/internal/service"
	"github.com/examify/examify-backend/internal/session"
	"github.com/examify/examify-backend/internal/validator"
)

// timeNow is swappable in tests.
var timeNow = time.Now

// SheetHandler handles the answer sheet REST surface. Live-session actions
// (answers, env events, unlock during a connection) flow over the
// WebSocket; these endpoints cover creation, teacher interventions and the
// direct submit.
type SheetHandler struct {
	sheetService *service.SheetService
	registry     *session.Registry
}

func NewSheetHandler(sheetService *service.SheetService, registry *session.Registry) *SheetHandler {
	return &SheetHandler{
		sheetService: sheetService,
		registry:     registry,
	}
}

func (h *SheetHandler) sheetID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// sheetView decorates a sheet with its server-computed remaining time.
func sheetView(sheet *model.AnswerSheet) gin.H {
	return gin.H{
		"sheet":             sheet,
		"remaining_seconds": sheet.RemainingSeconds(timeNow()),
	}
}

// Create godoc
// POST /api/v1/sheets
// Starts (or resumes) the student's attempt at an exam.
func (h *SheetHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSheetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sheet, err := h.sheetService.Create(c.Request.Context(), req.ExamID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrExamClosed):
			response.Fail(c, http.StatusConflict, response.ErrExamNotStartable)
		case errors.Is(err, service.ErrNotEnoughQuestions):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrNotEnoughQuestions)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusCreated, sheetView(sheet))
}

// Get godoc
// GET /api/v1/sheets/:id
func (h *SheetHandler) Get(c *gin.Context) {
	id, ok := h.sheetID(c)
	if !ok {
		return
	}

	claims := middleware.GetClaims(c)
	sheet, err := h.sheetService.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	// Students can only read their own sheet.
	if claims != nil && claims.TokenType == service.TokenTypeStudent && sheet.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	response.Success(c, http.StatusOK, sheetView(sheet))
}

// ListByExam godoc
// GET /api/v1/exams/:id/sheets
func (h *SheetHandler) ListByExam(c *gin.Context) {
	examID, ok := h.sheetID(c)
	if !ok {
		return
	}

	sheets, err := h.sheetService.ListByExam(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if sheets == nil {
		sheets = []model.AnswerSheet{}
	}
	response.Success(c, http.StatusOK, gin.H{"sheets": sheets})
}

// AssignFlag godoc
// PUT /api/v1/sheets/:id/flag
// Raises the cheat flag from outside the live connection.
func (h *SheetHandler) AssignFlag(c *gin.Context) {
	id, ok := h.sheetID(c)
	if !ok {
		return
	}

	if err := h.sheetService.AssignFlag(c.Request.Context(), id); err != nil {
		h.failSheetError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Unlock godoc
// PUT /api/v1/sheets/:id/unlock
// Clears an active flag after passcode verification. Answers survive.
func (h *SheetHandler) Unlock(c *gin.Context) {
	id, ok := h.sheetID(c)
	if !ok {
		return
	}

	var req model.UnlockSheetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sheetService.Unlock(c.Request.Context(), id, req.Passcode); err != nil {
		if errors.Is(err, service.ErrPasscodeMismatch) {
			response.Fail(c, http.StatusForbidden, response.ErrPasscodeMismatch)
			return
		}
		h.failSheetError(c, err)
		return
	}

	// Release the live runtime too, if the student is connected here.
	if rt, live := h.registry.Get(id); live {
		rt.ApplyUnlock(c.Request.Context(), true)
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Refresh godoc
// PUT /api/v1/sheets/:id/refresh
// Draws a new question set and bumps the set number. Previous answers are
// discarded with the old set.
func (h *SheetHandler) Refresh(c *gin.Context) {
	id, ok := h.sheetID(c)
	if !ok {
		return
	}

	var req model.RefreshSheetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sheet, err := h.sheetService.Refresh(c.Request.Context(), id, req.RefreshCode)
	if err != nil {
		if errors.Is(err, service.ErrRefreshCodeMismatch) {
			response.Fail(c, http.StatusForbidden, response.ErrRefreshCodeInvalid)
			return
		}
		h.failSheetError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sheetView(sheet))
}

// Submit godoc
// PUT /api/v1/sheets/submit
// Terminal submit over REST. The database guard keeps this exactly-once
// against the live runtime's own submission paths.
func (h *SheetHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitSheetRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sheet, err := h.sheetService.GetByID(c.Request.Context(), req.AnswerSheetID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if claims.TokenType == service.TokenTypeStudent && sheet.StudentID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	sheet, err = h.sheetService.SubmitDirect(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrSheetSubmitted) {
			response.Fail(c, http.StatusConflict, response.ErrSheetSubmitted)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmitFailed)
		return
	}

	// The runtime has nothing left to do for this sheet.
	h.registry.Remove(req.AnswerSheetID)

	response.Success(c, http.StatusOK, gin.H{"sheet": sheet})
}

func (h *SheetHandler) failSheetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSheetNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrSheetSubmitted):
		response.Fail(c, http.StatusConflict, response.ErrSheetSubmitted)
	case errors.Is(err, service.ErrNotEnoughQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNotEnoughQuestions)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
