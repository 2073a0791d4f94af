package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionEnv    Action = "env"
	ActionUnlock Action = "unlock"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestPayload is the single client message shape. Which fields matter
// depends on the action: answer uses question/answer, env uses event and
// unlock uses passcode. The env event is one of "hidden", "resized" or
// "unloading".
type RequestPayload struct {
	Action   Action `json:"action"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Event    string `json:"event,omitempty"`
	Passcode string `json:"passcode,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventFlagged   Event = "flagged"
	EventUnlocked  Event = "unlocked"
	EventReset     Event = "reset"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type AnswerResponse struct {
	Event    Event  `json:"event"`
	Status   string `json:"status"`
	Answered int    `json:"answered"`
}

// FlaggedResponse tells the client to show the lock screen and collect the
// teacher passcode.
type FlaggedResponse struct {
	Event     Event  `json:"event"`
	FlagCount int    `json:"flag_count"`
	Reason    string `json:"reason"`
}

type UnlockedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

// ResetResponse replaces the client's question set after a teacher-forced
// refresh. Previous answers are gone.
type ResetResponse struct {
	Event     Event    `json:"event"`
	SetNumber int      `json:"set_number"`
	Questions []string `json:"questions"`
}

// SubmittedResponse closes out the attempt. Score is null for exams graded
// by the teacher.
type SubmittedResponse struct {
	Event  Event    `json:"event"`
	Status string   `json:"status"`
	Score  *float64 `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
