// Package export renders competition results as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/binarybattles/coderelay/internal/coderelay"
)

// Kind selects the workbook layout.
type Kind string

const (
	KindReport    Kind = "report"
	KindAnalytics Kind = "analytics"
)

// ParseKind maps a query value to a Kind. An empty value means KindReport.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case "", KindReport:
		return KindReport, true
	case KindAnalytics:
		return KindAnalytics, true
	}
	return "", false
}

// Data is everything a workbook may draw from.
type Data struct {
	Submissions     []coderelay.Submission
	Teams           []coderelay.Team
	Violations      []coderelay.Violation
	ViolationCounts map[string]int
	Stats           coderelay.Stats
	// ProblemTitle returns the display title of a problem id.
	ProblemTitle func(id int) string
}

func (d Data) title(id int) string {
	if d.ProblemTitle != nil {
		if t := d.ProblemTitle(id); t != "" {
			return t
		}
	}
	return fmt.Sprintf("Problem %d", id)
}

// Filename is the attachment name for a workbook generated at now.
func Filename(k Kind, now time.Time) string {
	prefix := "submissions_report"
	if k == KindAnalytics {
		prefix = "competition_analytics"
	}
	return prefix + "_" + now.UTC().Format("2006-01-02") + ".xlsx"
}

// Write renders the workbook of kind k to w.
func Write(w io.Writer, k Kind, d Data) error {
	f := excelize.NewFile()
	defer f.Close()

	first := f.GetSheetName(f.GetActiveSheetIndex())
	var err error
	switch k {
	case KindAnalytics:
		err = analytics(f, first, d)
	default:
		err = report(f, first, d)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func status(passed bool) string {
	if passed {
		return "Correct"
	}
	return "Incorrect"
}

func report(f *excelize.File, sheet string, d Data) error {
	if err := f.SetSheetName(sheet, "Submissions"); err != nil {
		return err
	}
	rows := [][]any{{"Team Name", "Problem ID", "Problem Title", "Language", "Status", "Submission Time"}}
	for _, s := range d.Submissions {
		rows = append(rows, []any{s.TeamName, s.ProblemID, d.title(s.ProblemID), s.Language, status(s.Passed), s.SubmittedAt.Format(time.RFC3339)})
	}
	return writeRows(f, "Submissions", rows)
}

func analytics(f *excelize.File, sheet string, d Data) error {
	if err := f.SetSheetName(sheet, "Overview"); err != nil {
		return err
	}
	st := d.Stats
	passRate := 0.0
	if st.TotalSubmissions > 0 {
		passRate = float64(st.PassedSubmissions) / float64(st.TotalSubmissions) * 100
	}
	overview := [][]any{
		{"Total Teams", st.TotalTeams},
		{"Active Teams (5m)", st.ActiveTeams},
		{"Total Submissions", st.TotalSubmissions},
		{"Passed Submissions", st.PassedSubmissions},
		{"Failed Submissions", st.FailedSubmissions},
		{"Pass Rate (%)", fmt.Sprintf("%.1f", passRate)},
		{"Total Violations", st.TotalViolations},
	}
	if err := writeRows(f, "Overview", overview); err != nil {
		return err
	}

	problems := [][]any{{"Problem ID", "Problem Title", "Solved", "Attempted", "Solve Rate (%)"}}
	for _, ps := range st.ProblemStats {
		rate := 0.0
		if ps.Attempted > 0 {
			rate = float64(ps.Solved) / float64(ps.Attempted) * 100
		}
		problems = append(problems, []any{ps.ProblemID, d.title(ps.ProblemID), ps.Solved, ps.Attempted, fmt.Sprintf("%.1f", rate)})
	}
	if err := newSheet(f, "Problems", problems); err != nil {
		return err
	}

	teams := [][]any{{"Team Name", "Score", "Problems Solved", "Violations", "Banned"}}
	for _, t := range d.Teams {
		if t.IsAdmin {
			continue
		}
		banned := "No"
		if t.IsBanned {
			banned = "Yes"
		}
		teams = append(teams, []any{t.Name, t.Score, len(t.Solved), d.ViolationCounts[t.Name], banned})
	}
	if err := newSheet(f, "Teams", teams); err != nil {
		return err
	}

	subs := [][]any{{"Team Name", "Problem ID", "Problem Title", "Language", "Status", "Message", "Submission Time"}}
	for _, s := range d.Submissions {
		subs = append(subs, []any{s.TeamName, s.ProblemID, d.title(s.ProblemID), s.Language, status(s.Passed), s.Message, s.SubmittedAt.Format(time.RFC3339)})
	}
	if err := newSheet(f, "Submissions", subs); err != nil {
		return err
	}

	if len(d.Violations) == 0 {
		return nil
	}
	viol := [][]any{{"Team Name", "Violation Type", "Details", "Time"}}
	for _, v := range d.Violations {
		viol = append(viol, []any{v.TeamName, v.Type, v.Details, v.CreatedAt.Format(time.RFC3339)})
	}
	return newSheet(f, "Violations", viol)
}

func newSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %s: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
