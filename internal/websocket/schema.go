package websocket

import (
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionPing      Action = "ping"
)

// RequestPayload is the union of every client message; fields irrelevant
// to the action are left empty.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QID            string `json:"q_id,omitempty"`
	SelectedOption *int   `json:"selected_option,omitempty"`
	Text           string `json:"text,omitempty"`

	// violation
	Type        model.ViolationType `json:"type,omitempty"`
	Severity    model.Severity      `json:"severity,omitempty"`
	Timestamp   *time.Time          `json:"timestamp,omitempty"`
	SnapshotRef *string             `json:"snapshot_ref,omitempty"`
	Description *string             `json:"description,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventRecorded Event = "recorded"
	EventPong     Event = "pong"
)

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type RecordedResponse struct {
	Event       Event  `json:"event"`
	ViolationID string `json:"violation_id"`
}

type ErrorResponse struct {
	Event Event             `json:"event"`
	Error string            `json:"error"`
	Code  string            `json:"code,omitempty"`
	Field map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
