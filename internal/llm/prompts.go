package llm

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/report"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("").Funcs(template.FuncMap{
	"join": strings.Join,
}).ParseFS(promptFS, "prompts/*.tmpl"))

type sectionPromptData struct {
	Section string
	Count   int
	Info    model.UserInfo
	Traits  []model.Trait
}

type reportPromptData struct {
	Info    model.UserInfo
	M       report.Metrics
	Results model.TestResults
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
