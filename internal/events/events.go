// Package events turns committed session changes into domain events and
// delivers them to the configured sinks.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/psytest-backend/internal/model"
)

type Type string

const (
	TypeSessionCreated    Type = "session.created"
	TypeStatusChanged     Type = "session.status_changed"
	TypeSectionReady      Type = "session.section_ready"
	TypeSessionCompleted  Type = "session.completed"
	TypeReportGenerated   Type = "session.report_generated"
	TypeViolationRecorded Type = "session.violation_recorded"
)

// Event is the wire shape shared by every sink.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	SessionID string                 `json:"session_id"`
	Status    string                 `json:"status,omitempty"`
	Section   string                 `json:"section,omitempty"`
	Readiness *model.Readiness       `json:"readiness,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

func newEvent(t Type, s *model.Session, at time.Time) Event {
	r := s.Readiness()
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: s.ID,
		Status:    s.Status.WireName(),
		Readiness: &r,
		Timestamp: at,
	}
}

// Diff derives the events implied by moving from before to after. before
// is nil for a newly created session.
func Diff(before, after *model.Session) []Event {
	at := after.UpdatedAt
	if before == nil {
		return []Event{newEvent(TypeSessionCreated, after, at)}
	}

	var out []Event
	for _, sec := range model.AllSections {
		if !before.IsReady(sec) && after.IsReady(sec) {
			e := newEvent(TypeSectionReady, after, at)
			e.Section = sec.String()
			out = append(out, e)
		}
	}
	if before.Status != after.Status {
		e := newEvent(TypeStatusChanged, after, at)
		e.Payload = map[string]interface{}{"previous_status": before.Status.WireName()}
		if after.GenerationError != "" {
			e.Payload["generation_error"] = after.GenerationError
		}
		out = append(out, e)
		if after.Status == model.StatusCompleted {
			out = append(out, newEvent(TypeSessionCompleted, after, at))
		}
	}
	if after.Report != nil && (before.Report == nil || !before.Report.GeneratedAt.Equal(after.Report.GeneratedAt)) {
		e := newEvent(TypeReportGenerated, after, at)
		e.Payload = map[string]interface{}{"performance_bucket": string(after.Report.PerformanceBucket)}
		out = append(out, e)
	}
	return out
}

// ViolationEvent announces an accepted proctoring violation.
func ViolationEvent(v model.ProctoringViolation) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeViolationRecorded,
		SessionID: v.SessionID,
		Payload: map[string]interface{}{
			"violation_id": v.ID,
			"type":         string(v.Type),
			"severity":     string(v.Severity),
		},
		Timestamp: v.Timestamp,
	}
}
