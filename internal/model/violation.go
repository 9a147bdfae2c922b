package model

import "time"

// ViolationType classifies a proctoring signal.
type ViolationType string

const (
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationWindowBlur       ViolationType = "window_blur"
	ViolationFullscreenExit   ViolationType = "fullscreen_exit"
	ViolationMultipleFaces    ViolationType = "multiple_faces"
	ViolationNoFace           ViolationType = "no_face"
	ViolationSuspiciousObject ViolationType = "suspicious_object"
	ViolationAudioDetected    ViolationType = "audio_detection"
	ViolationCopyPaste        ViolationType = "copy_paste"
	ViolationRightClick       ViolationType = "right_click"
	ViolationScreenshot       ViolationType = "screenshot"
	ViolationOther            ViolationType = "other"
)

var violationTypes = map[ViolationType]struct{}{
	ViolationTabSwitch: {}, ViolationWindowBlur: {}, ViolationFullscreenExit: {},
	ViolationMultipleFaces: {}, ViolationNoFace: {}, ViolationSuspiciousObject: {},
	ViolationAudioDetected: {}, ViolationCopyPaste: {}, ViolationRightClick: {},
	ViolationScreenshot: {}, ViolationOther: {},
}

func (t ViolationType) Valid() bool {
	_, ok := violationTypes[t]
	return ok
}

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ProctoringViolation is an append-only integrity record.
type ProctoringViolation struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	Type        ViolationType `json:"type"`
	Severity    Severity      `json:"severity"`
	Timestamp   time.Time     `json:"timestamp"`
	SnapshotRef *string       `json:"snapshot_ref,omitempty"`
	Description *string       `json:"description,omitempty"`
}

// ViolationStats is a tally over a session's violations.
type ViolationStats struct {
	SessionID  string                `json:"session_id"`
	Total      int                   `json:"total"`
	ByType     map[ViolationType]int `json:"by_type"`
	BySeverity map[Severity]int      `json:"by_severity"`
	FirstAt    *time.Time            `json:"first_at,omitempty"`
	LastAt     *time.Time            `json:"last_at,omitempty"`
}

// RecordViolationRequest is the payload for reporting a violation.
type RecordViolationRequest struct {
	UserID      string        `json:"user_id" binding:"omitempty,max=100"`
	Type        ViolationType `json:"type" binding:"required,oneof=tab_switch window_blur fullscreen_exit multiple_faces no_face suspicious_object audio_detection copy_paste right_click screenshot other"`
	Severity    Severity      `json:"severity" binding:"required,oneof=low medium high critical"`
	Timestamp   *time.Time    `json:"timestamp,omitempty"`
	SnapshotRef *string       `json:"snapshot_ref,omitempty" binding:"omitempty,max=500"`
	Description *string       `json:"description,omitempty" binding:"omitempty,max=2000"`
}
