package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/conflict"
	"github.com/japaniel/coursegen/pkg/coverage"
	"github.com/japaniel/coursegen/pkg/merge"
	"github.com/japaniel/coursegen/pkg/pipeline"
)

var (
	colorOK   = lipgloss.Color("#2CD7C7")
	colorWarn = lipgloss.Color("#F4D03F")
	colorErr  = lipgloss.Color("#E74C3C")
	colorDim  = lipgloss.Color("#2C4A54")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorOK)
	okStyle    = lipgloss.NewStyle().Foreground(colorOK)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errStyle   = lipgloss.NewStyle().Foreground(colorErr)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

// box renders a titled summary with one "label  value" row per pair.
func box(w io.Writer, title string, rows ...[2]string) {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("%-*s", width, r[0]))+"  "+r[1])
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func status(ok bool, good, bad string) string {
	if ok {
		return okStyle.Render(good)
	}
	return errStyle.Render(bad)
}

func summarizeSegments(w io.Writer, results []pipeline.SegmentResult) {
	rows := [][2]string{}
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
			rows = append(rows, [2]string{fmt.Sprintf("seed %d", r.Position), errStyle.Render(r.Error)})
		}
	}
	rows = append([][2]string{
		{"seeds", fmt.Sprint(len(results))},
		{"tiled", status(failed == 0, fmt.Sprint(len(results)-failed), fmt.Sprint(len(results)-failed))},
	}, rows...)
	box(w, "Segmentation", rows...)
}

func summarizeMerge(w io.Writer, rep *merge.Report, dropped []int) {
	if rep == nil {
		return
	}
	state := status(rep.Accepted, "accepted", "rejected")
	if rep.Committed {
		state = okStyle.Render("committed")
	}
	rows := [][2]string{
		{"batch", rep.BatchID},
		{"state", state},
		{"seeds", fmt.Sprintf("%d passed, %d failed", rep.Passed, rep.Failed)},
		{"legos", fmt.Sprintf("%d new, %d references", rep.NewLegos, rep.References)},
	}
	if len(dropped) > 0 {
		rows = append(rows, [2]string{"dropped", warnStyle.Render(fmt.Sprint(dropped))})
	}
	for _, f := range rep.Failures {
		at := f.SeedID
		if f.LegoID != "" {
			at = f.LegoID
		}
		rows = append(rows, [2]string{at, errStyle.Render(f.Kind + ": " + f.Detail)})
	}
	box(w, "Merge", rows...)
}

func summarizeBaskets(w io.Writer, baskets []*basket.Basket) {
	padded, rejected := 0, 0
	for _, b := range baskets {
		if b.Err() != nil {
			padded++
		}
		rejected += b.Rejected
	}
	pad := okStyle.Render("0")
	if padded > 0 {
		pad = warnStyle.Render(fmt.Sprint(padded))
	}
	box(w, "Baskets",
		[2]string{"generated", fmt.Sprint(len(baskets))},
		[2]string{"padded", pad},
		[2]string{"gate rejections", fmt.Sprint(rejected)},
	)
}

func summarizeConflicts(w io.Writer, cs []conflict.Conflict) {
	rows := [][2]string{{"conflicts", status(len(cs) == 0, "0", fmt.Sprint(len(cs)))}}
	for _, c := range cs {
		rows = append(rows, [2]string{c.KnownText, fmt.Sprintf("%s → %s", c.Type, c.Resolution.Action)})
	}
	box(w, "Conflicts", rows...)
}

func summarizeCoverage(w io.Writer, rep *coverage.Report) {
	box(w, "Coverage",
		[2]string{"legos", fmt.Sprint(rep.Legos)},
		[2]string{"phrases", fmt.Sprint(rep.Phrases)},
		[2]string{"edges", fmt.Sprintf("%d of %d", rep.ObservedEdges, rep.LegalEdges)},
		[2]string{"density", fmt.Sprintf("%.1f%%", rep.Density)},
		[2]string{"outliers", fmt.Sprint(len(rep.Outliers))},
	)
}

func summarizeGaps(w io.Writer, g coverage.Gaps) {
	box(w, "Gaps",
		[2]string{"missing seeds", status(len(g.MissingSeeds) == 0, "0", fmt.Sprint(len(g.MissingSeeds)))},
		[2]string{"missing baskets", status(len(g.MissingBaskets) == 0, "0", fmt.Sprint(len(g.MissingBaskets)))},
		[2]string{"misshapen", status(len(g.Misshapen) == 0, "0", fmt.Sprint(len(g.Misshapen)))},
	)
}
