// Package report renders a risk analysis as a printable PDF incident report.
package report

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/treloxai/riskops/internal/risk"
)

// DefaultTitle is the report header when none is configured.
const DefaultTitle = "TRELOXAI - RiskOps incident report"

// Layout in millimetres on A4 portrait.
const (
	marginLeft   = 20.0
	marginTop    = 20.0
	marginBottom = 30.0

	lineHeight    = 7.0
	listHeight    = 6.0
	sectionGap    = 5.0
	sectionHeader = 8.0
)

// Renderer produces PDF incident reports. The zero value is not usable; use
// NewRenderer.
type Renderer struct {
	title string
	now   func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock fixes the creation date stamped in the document metadata.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// NewRenderer creates a renderer with the given header title. An empty title
// uses DefaultTitle.
func NewRenderer(title string, opts ...Option) *Renderer {
	if title == "" {
		title = DefaultTitle
	}
	r := &Renderer{title: title, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render lays out the result and returns the PDF bytes.
func (r *Renderer) Render(result *risk.RiskResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("report: nil result")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginLeft)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.SetTitle(r.title, false)
	pdf.SetSubject("Incident "+result.ImageID, false)
	pdf.SetCreator("riskops", false)
	pdf.SetCreationDate(r.now())
	pdf.SetCatalogSort(true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(r.title), "", 1, "L", false, 0, "")
	pdf.Ln(sectionGap)

	pdf.SetFont("Helvetica", "", 11)
	line(pdf, tr, "Image ID: "+result.ImageID)

	red, green, blue := rgb(result.GlobalSeverityLevel.Color())
	pdf.SetTextColor(red, green, blue)
	line(pdf, tr, fmt.Sprintf("Risk level: %s (%.1f/100)", result.GlobalSeverityLevel, result.GlobalSeverityScore))
	pdf.SetTextColor(0, 0, 0)

	mitigated := hasMitigation(result)
	if mitigated {
		red, green, blue = rgb(result.MitigatedSeverityLevel.Color())
		pdf.SetTextColor(red, green, blue)
		line(pdf, tr, fmt.Sprintf("After mitigation: %s (%.1f/100)", result.MitigatedSeverityLevel, result.MitigatedSeverityScore))
		pdf.SetTextColor(0, 0, 0)
	}

	line(pdf, tr, fmt.Sprintf("Estimated cost: %s %s", FormatAmount(result.EstimatedCost), result.Currency))
	if mitigated {
		line(pdf, tr, fmt.Sprintf("Estimated cost after mitigation: %s %s", FormatAmount(result.MitigatedCost), result.Currency))
		line(pdf, tr, fmt.Sprintf("Estimated risk reduction: %.1f %%", result.RiskReductionPct))
		if saved, pct, ok := result.Savings(); ok {
			line(pdf, tr, fmt.Sprintf("Potential savings: %s %s (%.1f %% of the estimated cost)",
				FormatAmount(saved), result.Currency, pct))
		}
	}

	section(pdf, tr, "Risk factors")
	for _, f := range result.Factors {
		item(pdf, tr, fmt.Sprintf("- %s : score %.1f/100, weight %.2f, contribution %.1f",
			f.Name, f.Value, f.Weight, f.Contribution))
	}

	section(pdf, tr, "Recommendations")
	for _, rec := range result.Recommendations {
		pdf.MultiCell(0, listHeight, tr("- "+rec), "", "L", false)
	}

	section(pdf, tr, "Detailed explanation")
	for _, sentence := range ExplanationLines(result.Explanation) {
		pdf.MultiCell(0, listHeight, tr(sentence), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render %s: %w", result.ImageID, err)
	}
	return buf.Bytes(), nil
}

// hasMitigation reports whether the mitigated mirror fields are meaningful.
// Results built without a detection carry none.
func hasMitigation(r *risk.RiskResult) bool {
	return len(r.Factors) > 0
}

func line(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.CellFormat(0, lineHeight, tr(text), "", 1, "L", false, 0, "")
}

func item(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.CellFormat(0, listHeight, tr(text), "", 1, "L", false, 0, "")
}

func section(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.Ln(sectionGap)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, sectionHeader, tr(title+":"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
}

// sentenceStarts are the heads of every sentence after the first in
// risk.BuildExplanation and risk.NoDetectionExplanation.
var sentenceStarts = []string{"Detected substance: ", "Zone: ", "The detailed scores ", "Risk score "}

// ExplanationLines splits an explanation into one line per sentence. Only
// template boundaries split, so free-text values containing ". " stay whole.
func ExplanationLines(explanation string) []string {
	var out []string
	rest := explanation
	for {
		i := sentenceBreak(rest)
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(rest[:i]); line != "" {
			out = append(out, line)
		}
		rest = rest[i+2:]
	}
	if line := strings.TrimSpace(rest); line != "" {
		out = append(out, line)
	}
	return out
}

// sentenceBreak returns the index of the next ". " that ends a sentence, or
// -1.
func sentenceBreak(s string) int {
	for from := 0; ; {
		j := strings.Index(s[from:], ". ")
		if j < 0 {
			return -1
		}
		j += from
		next := s[j+2:]
		if strings.TrimSpace(next) == "" {
			return j
		}
		for _, start := range sentenceStarts {
			if strings.HasPrefix(next, start) {
				return j
			}
		}
		from = j + 2
	}
}

// FormatAmount renders a cost with no decimals and comma thousands
// separators: 8937.6 becomes "8,938".
func FormatAmount(v float64) string {
	n := int64(math.Round(v))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	b.WriteString(sign)
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}

// rgb parses a "#rrggbb" color. Malformed colors are black.
func rgb(hex string) (int, int, int) {
	if len(hex) != 7 || hex[0] != '#' {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
