package model

import (
	"fmt"
	"strings"
)

// Status enumerates assessment session states.
type Status int

const (
	StatusUnknown Status = iota
	StatusCreated
	StatusGenerating
	StatusPartialReady
	StatusReady
	StatusInProgress
	StatusCompleted
	StatusFailed
)

var statusCodes = map[Status]string{
	StatusCreated:      "CREATED",
	StatusGenerating:   "GENERATING",
	StatusPartialReady: "PARTIAL_READY",
	StatusReady:        "READY",
	StatusInProgress:   "IN_PROGRESS",
	StatusCompleted:    "COMPLETED",
	StatusFailed:       "FAILED",
}

// wireNames is the vocabulary exposed to API clients and event consumers.
var wireNames = map[Status]string{
	StatusCreated:      "created",
	StatusGenerating:   "generating",
	StatusPartialReady: "partial_ready",
	StatusReady:        "ready",
	StatusInProgress:   "in_progress",
	StatusCompleted:    "completed",
	StatusFailed:       "failed",
}

// String returns the storage code (e.g. PARTIAL_READY).
func (s Status) String() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return "UNKNOWN"
}

// WireName returns the external name (e.g. partial_ready).
func (s Status) WireName() string {
	if name, ok := wireNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus accepts either a storage code or a wire name.
func ParseStatus(raw string) (Status, error) {
	for st, code := range statusCodes {
		if strings.EqualFold(raw, code) {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown session status %q", raw)
}

// MarshalText keeps the storage code in JSON produced for internal consumers.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Generating reports whether section content may still be merged.
func (s Status) Generating() bool {
	return s == StatusGenerating || s == StatusPartialReady
}

// Testable reports whether the candidate may answer or submit.
func (s Status) Testable() bool {
	return s == StatusReady || s == StatusInProgress
}

var transitions = map[Status][]Status{
	StatusCreated:      {StatusGenerating, StatusFailed},
	StatusGenerating:   {StatusPartialReady, StatusReady, StatusFailed},
	StatusPartialReady: {StatusPartialReady, StatusReady, StatusFailed},
	StatusReady:        {StatusInProgress, StatusCompleted, StatusFailed},
	StatusInProgress:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
