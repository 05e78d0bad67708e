package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"formatDate": func(t time.Time) string {
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
		"statusLabel": statusLabel,
	}).ParseFS(templateFS, "templates/report.html"),
)

func statusLabel(status string) string {
	switch status {
	case "in-progress":
		return "In Progress"
	case "":
		return ""
	default:
		return strings.ToUpper(status[:1]) + status[1:]
	}
}

// RenderReportHTML renders the report template. All user text is escaped.
func RenderReportHTML(r Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
