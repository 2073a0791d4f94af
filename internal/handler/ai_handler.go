package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/model"
	"github.com/examify/examify-backend/internal/response"
	"github.com/examify/examify-backend/internal/scoring"
	"github.com/examify/examify-backend/internal/validator"
)

// AIHandler exposes the raw prompt endpoint used by teacher-side tooling.
// Grading during submission does not go through here; the coordinator calls
// the client directly.
type AIHandler struct {
	gemini *scoring.GeminiClient
	log    zerolog.Logger
}

func NewAIHandler(gemini *scoring.GeminiClient, log zerolog.Logger) *AIHandler {
	return &AIHandler{
		gemini: gemini,
		log:    log.With().Str("component", "ai_handler").Logger(),
	}
}

// Score godoc
// POST /api/v1/ai/score
func (h *AIHandler) Score(c *gin.Context) {
	var req model.ScorePromptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	text, err := h.gemini.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.log.Error().Err(err).Msg("prompt completion failed")
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"response": text})
}
