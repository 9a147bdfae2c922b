package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteAnswersWorkbook(t *testing.T) {
	s := model.NewSession("s-1", "u-1", model.UserInfo{Name: "Ayu", Email: "ayu@example.com", Domain: "data"}, time.Now())
	s.Status = model.StatusCompleted
	s.Questions = []model.Question{
		{ID: "apt-01", Section: model.SectionAptitude, Category: "numerical", Prompt: "2+2?", Options: []string{"3", "4"}, CorrectOption: model.IntPtr(1)},
		{ID: "apt-02", Section: model.SectionAptitude, Prompt: "3+3?", Options: []string{"6", "7"}, CorrectOption: model.IntPtr(0)},
		{ID: "beh-01", Section: model.SectionBehavioral, Prompt: "Team?", Options: []string{"lead", "follow"}},
	}
	s.Answers = []model.Answer{
		{QuestionID: "apt-01", SelectedOption: model.IntPtr(1)},
		{QuestionID: "beh-01", Text: "I prefer to lead"},
	}
	s.Results = &model.TestResults{Total: 3, Attempted: 2, NotAttempted: 1, Correct: 1, SubmittedBy: model.SubmittedByUser, SubmittedAt: time.Now()}

	var buf bytes.Buffer
	require.NoError(t, WriteAnswers(&buf, s))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(AnswersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Question ID", rows[0][0])
	assert.Equal(t, []string{"apt-01", "aptitude", "numerical", "2+2?", "1", "4", "", "1", "correct"}, rows[1])
	assert.Equal(t, "not attempted", rows[2][8])
	assert.Equal(t, "I prefer to lead", rows[3][6])
	assert.Equal(t, "answered", rows[3][8])

	total, err := f.GetCellValue(SummarySheet, "B6")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
	status, err := f.GetCellValue(SummarySheet, "B5")
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
}
