// Package export renders completed sessions as spreadsheets.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/xuri/excelize/v2"
)

const (
	AnswersSheet = "Answers"
	SummarySheet = "Summary"
	ContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Filename suggests a download name for the session workbook.
func Filename(sessionID string) string {
	return fmt.Sprintf("assessment-%s.xlsx", sessionID)
}

// WriteAnswers writes a workbook with one row per question and a summary
// sheet with the final results.
func WriteAnswers(w io.Writer, s *model.Session) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", AnswersSheet); err != nil {
		return err
	}
	if err := writeAnswerRows(f, s); err != nil {
		return fmt.Errorf("answers sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	if err := writeSummary(f, s); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}

	_, err := f.WriteTo(w)
	return err
}

func writeAnswerRows(f *excelize.File, s *model.Session) error {
	sw, err := f.NewStreamWriter(AnswersSheet)
	if err != nil {
		return err
	}
	headers := []interface{}{"Question ID", "Section", "Category", "Prompt", "Selected Option", "Selected Text", "Written Answer", "Correct Option", "Outcome"}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}

	answers := make(map[string]model.Answer, len(s.Answers))
	for _, a := range s.Answers {
		answers[a.QuestionID] = a
	}

	for i, q := range s.Questions {
		a, answered := answers[q.ID]
		var selected, selectedText, correct interface{} = "", "", ""
		if answered && a.SelectedOption != nil {
			selected = *a.SelectedOption
			if q.ValidOption(*a.SelectedOption) {
				selectedText = q.Options[*a.SelectedOption]
			}
		}
		if q.CorrectOption != nil {
			correct = *q.CorrectOption
		}
		row := []interface{}{
			q.ID, q.Section.String(), q.Category, q.Prompt,
			selected, selectedText, strings.TrimSpace(a.Text), correct, outcome(q, a, answered),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func outcome(q model.Question, a model.Answer, answered bool) string {
	if !answered || a.Empty() {
		return "not attempted"
	}
	if !q.Objective() {
		return "answered"
	}
	if a.SelectedOption != nil && *a.SelectedOption == *q.CorrectOption {
		return "correct"
	}
	return "wrong"
}

func writeSummary(f *excelize.File, s *model.Session) error {
	rows := [][]interface{}{
		{"Session ID", s.ID},
		{"Candidate", s.UserInfo.Name},
		{"Email", s.UserInfo.Email},
		{"Domain", s.UserInfo.Domain},
		{"Status", s.Status.WireName()},
	}
	if r := s.Results; r != nil {
		rows = append(rows,
			[]interface{}{"Total", r.Total},
			[]interface{}{"Attempted", r.Attempted},
			[]interface{}{"Not Attempted", r.NotAttempted},
			[]interface{}{"Correct", r.Correct},
			[]interface{}{"Wrong", r.Wrong},
			[]interface{}{"Marked For Review", r.MarkedForReview},
			[]interface{}{"Answered And Marked For Review", r.AnsweredAndMarkedForReview},
			[]interface{}{"Warning Count", r.WarningCount},
			[]interface{}{"Submitted By", string(r.SubmittedBy)},
			[]interface{}{"Submitted At", r.SubmittedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 32)
}
