// Package export renders issue resolution reports as HTML or PDF.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

func ParseFormat(v string) (Format, bool) {
	switch Format(v) {
	case "", FormatPDF:
		return FormatPDF, true
	case FormatHTML:
		return FormatHTML, true
	default:
		return "", false
	}
}

// Report is everything printed on a resolution report.
type Report struct {
	IssueID      string
	Title        string
	Description  string
	Category     string
	Status       string
	Urgency      string
	Address      string
	Area         string
	ReporterName string
	AssigneeName string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	Upvotes      int
	Comments     int
	Timeline     []TimelineItem
	Response     *ResponseItem
	GeneratedAt  time.Time
}

type TimelineItem struct {
	Status    string
	Note      string
	Actor     string
	CreatedAt time.Time
}

type ResponseItem struct {
	Author    string
	Message   string
	CreatedAt time.Time
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates headless Chrome is unavailable or disabled.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
