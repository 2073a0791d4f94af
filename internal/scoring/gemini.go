package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/model"
)

// scorePrompt precedes the JSON-encoded answers sent to the model. The
// instruction pins the output to a bare number so it parses reliably.
const scorePrompt = "Please evaluate these answers and provide a single numerical score out of 100. Do not include any explanation or additional text. If all answers are wrong, return 0. Only return the number:\n"

var (
	ErrEmptyCompletion = errors.New("model returned no usable completion")
	ErrScoreOutOfRange = errors.New("model score is not a number between 0 and 100")
)

// GeminiClient calls the Gemini REST API directly. The endpoint and model
// name come from configuration so tests can point at a local server.
type GeminiClient struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	log      zerolog.Logger
}

func NewGeminiClient(cfg *config.Config, log zerolog.Logger) *GeminiClient {
	return &GeminiClient{
		endpoint: strings.TrimRight(cfg.AIEndpoint, "/"),
		model:    cfg.AIModel,
		apiKey:   cfg.AIAPIKey,
		client:   &http.Client{Timeout: cfg.AITimeout},
		log:      log.With().Str("component", "gemini_client").Logger(),
	}
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Role  string         `json:"role"`
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends one user prompt and returns the first candidate text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("AI API key is not configured")
	}

	payload := generateRequest{
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.endpoint, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate request returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyCompletion
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// Score grades a complete answer set. Blank answers are sent as-is so the
// model counts them as wrong.
func (g *GeminiClient) Score(ctx context.Context, entries []model.AnswerEntry) (float64, error) {
	answers, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("failed to encode answers: %w", err)
	}

	text, err := g.Generate(ctx, scorePrompt+string(answers))
	if err != nil {
		return 0, err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		g.log.Warn().Str("completion", text).Msg("model completion is not numeric")
		return 0, ErrScoreOutOfRange
	}
	if score < 0 || score > 100 {
		return 0, ErrScoreOutOfRange
	}
	return score, nil
}
