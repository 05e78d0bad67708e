package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	ChromeEnabled bool
	Timeout       time.Duration
}

// Service renders resolution reports.
type Service struct {
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
	hasPDF   func() bool
	printPDF func(ctx context.Context, html string, timeout time.Duration) ([]byte, error)
}

func NewService(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		opts:     opts,
		log:      logger.With().Str("component", "export").Logger(),
		now:      time.Now,
		hasPDF:   chromeAvailable,
		printPDF: printPDF,
	}
}

// PDFAvailable reports whether PDF export can run on this host.
func (s *Service) PDFAvailable() bool {
	return s.opts.ChromeEnabled && s.hasPDF()
}

func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.now()
	}
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	name := reportFilename(report.IssueID, report.Title)

	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		if !s.PDFAvailable() {
			return nil, fmt.Errorf("%w: chrome not installed or disabled", ErrPDFDependencyMissing)
		}
		started := time.Now()
		data, err := s.printPDF(ctx, html, s.opts.Timeout)
		if err != nil {
			return nil, err
		}
		s.log.Debug().
			Str("issue_id", report.IssueID).
			Int("bytes", len(data)).
			Dur("elapsed", time.Since(started)).
			Msg("rendered pdf report")
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
