package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

func renderRuns(w io.Writer, runs []domain.TestRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Status", "Trigger", "Owner", "Tests", "Passed", "Failed", "Errors", "Skipped", "Created"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID, r.Status, r.Trigger, r.Owner, r.TotalTests,
			r.Passed, r.Failed, r.Errors, r.Skipped,
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.AppendFooter(table.Row{"TOTAL", len(runs)})
	t.Render()
}

func renderRun(w io.Writer, run *domain.TestRun, results []domain.TestResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s (%s, %d/%d recorded)", run.ID, run.Status, run.Recorded(), run.TotalTests))
	t.AppendHeader(table.Row{"#", "Case", "Outcome", "Duration", "Attempts", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	byCase := make(map[string]domain.TestResult, len(results))
	for _, r := range results {
		byCase[r.CaseID] = r
	}
	for i, caseID := range run.CaseIDs {
		r, ok := byCase[caseID]
		if !ok {
			t.AppendRow(table.Row{i + 1, caseID, "-", "-", "-", ""})
			continue
		}
		t.AppendRow(table.Row{i + 1, caseID, outcomeText(r.Outcome), formatDuration(r.Duration()), r.Attempts, r.ErrorDetail})
	}

	switch {
	case run.Failed > 0 || run.Errors > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case run.Status == domain.RunStatusCompleted:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	if run.ErrorDetail != "" {
		t.AppendFooter(table.Row{"", "", "", "", "", run.ErrorDetail})
	}
	t.Render()
}

func outcomeText(o domain.Outcome) string {
	switch o {
	case domain.OutcomePass:
		return "PASS"
	case domain.OutcomeFail:
		return "FAIL"
	case domain.OutcomeError:
		return "ERROR"
	case domain.OutcomeSkipped:
		return "SKIP"
	}
	return "UNKNOWN"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
