package model

import "time"

// Submitter records who triggered the submission.
type Submitter string

const (
	SubmittedByUser    Submitter = "user"
	SubmittedByTimer   Submitter = "timer"
	SubmittedByProctor Submitter = "proctor"
)

func (s Submitter) Valid() bool {
	return s == SubmittedByUser || s == SubmittedByTimer || s == SubmittedByProctor
}

// TestResults is the immutable summary computed once at submission.
type TestResults struct {
	Total                      int       `json:"total"`
	Attempted                  int       `json:"attempted"`
	NotAttempted               int       `json:"not_attempted"`
	Correct                    int       `json:"correct"`
	Wrong                      int       `json:"wrong"`
	MarkedForReview            int       `json:"marked_for_review"`
	AnsweredAndMarkedForReview int       `json:"answered_and_marked_for_review"`
	SubmittedAt                time.Time `json:"submitted_at"`
	WarningCount               int       `json:"warning_count"`
	SubmittedBy                Submitter `json:"submitted_by"`
}

// ResultsDraft is the client-computed summary sent along with a submission.
type ResultsDraft struct {
	Total                      int       `json:"total" binding:"min=0"`
	Attempted                  int       `json:"attempted" binding:"min=0"`
	NotAttempted               int       `json:"not_attempted" binding:"min=0"`
	Correct                    int       `json:"correct" binding:"min=0"`
	Wrong                      int       `json:"wrong" binding:"min=0"`
	MarkedForReview            int       `json:"marked_for_review" binding:"min=0"`
	AnsweredAndMarkedForReview int       `json:"answered_and_marked_for_review" binding:"min=0"`
	WarningCount               int       `json:"warning_count" binding:"min=0"`
	SubmittedBy                Submitter `json:"submitted_by" binding:"omitempty,oneof=user timer proctor"`
}

// SubmitRequest is the payload for finishing the test.
type SubmitRequest struct {
	UserID  string       `json:"user_id" binding:"required,max=100"`
	Answers []Answer     `json:"answers" binding:"dive"`
	Results ResultsDraft `json:"results"`
}

// SaveAnswerRequest is the payload for autosaving one answer.
type SaveAnswerRequest struct {
	SelectedOption *int   `json:"selected_option,omitempty" binding:"omitempty,min=0"`
	Text           string `json:"text,omitempty" binding:"max=5000"`
}
