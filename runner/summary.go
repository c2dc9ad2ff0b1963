package runner

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

func printSummary(w io.Writer, s *models.RunState, logPath string) {
	if w == nil {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Sweep %s", s.ExitReason)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Run id", s.RunID},
		{"Elapsed", s.Elapsed},
		{"Exit code", s.ExitCode},
		{"Subtree files", fmt.Sprintf("%d (%d skipped)", s.SubtreeFiles, s.SubtreeFilesSkipped)},
		{"Categories attempted", s.CategoryRowsAttempted},
		{"Categories succeeded", s.CategoryRowsSucceeded},
		{"Categories failed", s.CategoryRowsFailed},
		{"Parents skipped", s.CategoryRowsSkippedParent},
		{"Duplicates skipped", s.CategoryRowsSkippedDuplicate},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Requests", s.RequestsIssued},
		{"Retries", s.Retries},
		{"Pages", s.PagesFetched},
		{"Items fetched", s.ItemsFetched},
		{"Items dropped", s.ItemsDropped},
		{"Rows (category/subtree/master)", fmt.Sprintf("%d / %d / %d", s.RowsWritten.Category, s.RowsWritten.Subtree, s.RowsWritten.Master)},
		{"Items/sec", itemsPerSecond(s)},
	})
	if logPath != "" {
		t.AppendFooter(table.Row{"Run log", logPath})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(s.Failures) == 0 {
		return
	}
	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.SetTitle("Failed categories")
	f.AppendHeader(table.Row{"Subtree", "Category", "Status", "Error"})
	for _, rec := range s.Failures {
		f.AppendRow(table.Row{rec.SubtreeName, rec.CategoryID + " " + rec.CategoryName, rec.Status, rec.Error})
	}
	f.SetStyle(table.StyleRounded)
	f.Render()
}

func itemsPerSecond(s *models.RunState) string {
	if s.ElapsedSeconds <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(s.ItemsFetched)/s.ElapsedSeconds)
}
