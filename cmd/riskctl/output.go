package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/treloxai/riskops/internal/history"
	"github.com/treloxai/riskops/internal/report"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/scenario"
)

// styles renders for one writer; color is dropped when w is not a terminal.
type styles struct {
	r      *lipgloss.Renderer
	title  lipgloss.Style
	muted  lipgloss.Style
	cell   lipgloss.Style
	header lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	cell := r.NewStyle().Padding(0, 1)
	return styles{
		r:      r,
		title:  r.NewStyle().Bold(true),
		muted:  r.NewStyle().Faint(true),
		cell:   cell,
		header: cell.Bold(true),
	}
}

func (s styles) level(l risk.Level) string {
	return s.r.NewStyle().Bold(true).Foreground(lipgloss.Color(l.Color())).Render(string(l))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r *risk.RiskResult) error {
	st := newStyles(w)

	fmt.Fprintf(w, "%s %s\n", st.title.Render("Image:"), r.ImageID)
	fmt.Fprintf(w, "Risk level: %s (score %.1f/100)\n", st.level(r.GlobalSeverityLevel), r.GlobalSeverityScore)
	if r.EstimatedCost > 0 {
		fmt.Fprintf(w, "Estimated cost: %s %s\n", report.FormatAmount(r.EstimatedCost), r.Currency)
	}
	if saved, pct, ok := r.Savings(); ok {
		fmt.Fprintf(w, "After mitigation: %s (score %.1f/100), cost %s %s, saves %s %s (%.1f%%)\n",
			st.level(r.MitigatedSeverityLevel), r.MitigatedSeverityScore,
			report.FormatAmount(r.MitigatedCost), r.Currency,
			report.FormatAmount(saved), r.Currency, pct)
	}

	if len(r.Factors) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Factors"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range r.Factors {
			fmt.Fprintf(tw, "  %s\t%.1f\tx %.2f\t= %.2f\n", f.Name, f.Value, f.Weight, f.Contribution)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Recommendations"))
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}

	fmt.Fprintf(w, "\n%s\n", st.title.Render("Explanation"))
	for _, line := range report.ExplanationLines(r.Explanation) {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}

func printHistory(w io.Writer, s *history.Session) error {
	st := newStyles(w)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.muted).
		Headers("#", "SCENARIO", "IMAGE", "SCORE", "LEVEL", "MITIGATED", "COST", "MITIGATED COST").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}
			return st.cell
		})
	for _, e := range s.Entries() {
		t.Row(strconv.Itoa(e.Index), e.Label, e.ImageID,
			fmt.Sprintf("%.1f", e.Score), string(e.Level), fmt.Sprintf("%.1f", e.MitigatedScore),
			report.FormatAmount(e.EstimatedCost), report.FormatAmount(e.MitigatedCost))
	}
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}

	sum := s.Summary()
	fmt.Fprintf(w, "\n%s %d incidents, mean score %.1f (mitigated %.1f), max %.1f, potential savings %s\n",
		st.title.Render("Summary:"), sum.Count, sum.MeanScore, sum.MeanMitigatedScore, sum.MaxScore,
		report.FormatAmount(sum.TotalSaved))
	return nil
}

func listScenarios(w io.Writer, presets []scenario.Scenario) error {
	st := newStyles(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range presets {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, st.muted.Render(s.Description))
	}
	return tw.Flush()
}
