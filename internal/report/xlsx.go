// Package report renders run reports for downstream consumers: a multi-sheet
// XLSX workbook for review teams and a flat CSV of resolution labels.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// ExportXLSX writes the run report as a workbook with one sheet per
// result class.
func ExportXLSX(report *model.RunReport, path string) error {
	f := xlsx.NewFile()

	if err := addSummarySheet(f, report); err != nil {
		return err
	}
	if err := addResolutionSheet(f, report.Resolved); err != nil {
		return err
	}
	if err := addDuplicateSheet(f, report.Duplicates); err != nil {
		return err
	}
	if err := addClusterSheet(f, report.Clusters); err != nil {
		return err
	}
	if err := addUngroupedSheet(f, report.Ungrouped, report.Skipped); err != nil {
		return err
	}

	return eris.Wrap(f.Save(path), "report: save workbook")
}

func addSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "report: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func addSummarySheet(f *xlsx.File, report *model.RunReport) error {
	sheet, err := addSheet(f, "Summary", []string{"Field", "Value"})
	if err != nil {
		return err
	}

	dupGroups := 0
	if report.Duplicates != nil {
		dupGroups = len(report.Duplicates.Groups)
	}
	completed := ""
	if !report.CompletedAt.IsZero() {
		completed = report.CompletedAt.Format(time.RFC3339)
	}

	for _, kv := range [][2]string{
		{"Run ID", report.RunID},
		{"Loan ID", report.LoanID},
		{"Total Documents", fmt.Sprintf("%d", report.TotalInput)},
		{"Duplicate Groups", fmt.Sprintf("%d", dupGroups)},
		{"Version Clusters", fmt.Sprintf("%d", len(report.Clusters))},
		{"Resolved", fmt.Sprintf("%d", len(report.Resolved))},
		{"Ungrouped", fmt.Sprintf("%d", len(report.Ungrouped))},
		{"Skipped", fmt.Sprintf("%d", len(report.Skipped))},
		{"Errors", fmt.Sprintf("%d", len(report.Errors))},
		{"Completed At", completed},
	} {
		row := sheet.AddRow()
		row.AddCell().SetString(kv[0])
		row.AddCell().SetString(kv[1])
	}
	return nil
}

func addResolutionSheet(f *xlsx.File, resolved []model.ResolutionResult) error {
	sheet, err := addSheet(f, "Resolutions", []string{"Document ID", "Status", "Latest Version", "Reason"})
	if err != nil {
		return err
	}
	for _, r := range resolved {
		row := sheet.AddRow()
		row.AddCell().SetString(r.DocumentID)
		row.AddCell().SetString(string(r.Status))
		row.AddCell().SetString(fmt.Sprintf("%t", r.IsLatestVersion))
		row.AddCell().SetString(r.Reason)
	}
	return nil
}

func addDuplicateSheet(f *xlsx.File, dup *model.DuplicateReport) error {
	sheet, err := addSheet(f, "Duplicate Groups", []string{"Tier", "Documents", "Score", "Band", "Recommendation"})
	if err != nil {
		return err
	}
	if dup == nil {
		return nil
	}

	actions := make(map[string]string, len(dup.Recommendations))
	for _, rec := range dup.Recommendations {
		actions[strings.Join(rec.DocumentIDs, ",")] = rec.Action
	}

	for _, g := range dup.Groups {
		row := sheet.AddRow()
		row.AddCell().SetString(string(g.Tier))
		row.AddCell().SetString(strings.Join(g.DocumentIDs, ", "))
		score := ""
		if g.Score > 0 {
			score = fmt.Sprintf("%.2f", g.Score)
		}
		row.AddCell().SetString(score)
		row.AddCell().SetString(string(g.Band))
		row.AddCell().SetString(actions[strings.Join(g.DocumentIDs, ",")])
	}
	return nil
}

func addClusterSheet(f *xlsx.File, clusters []model.VersionCluster) error {
	sheet, err := addSheet(f, "Clusters", []string{"Group Type", "Source", "Document Type", "Documents", "Confidence", "Justification"})
	if err != nil {
		return err
	}
	for _, c := range clusters {
		row := sheet.AddRow()
		row.AddCell().SetString(string(c.GroupType))
		row.AddCell().SetString(string(c.Source))
		row.AddCell().SetString(c.DocumentType)
		row.AddCell().SetString(strings.Join(c.DocumentIDs, ", "))
		row.AddCell().SetString(string(c.Confidence))
		row.AddCell().SetString(c.Justification)
	}
	return nil
}

func addUngroupedSheet(f *xlsx.File, ungrouped []model.UngroupedDoc, skipped []model.SkippedDocument) error {
	sheet, err := addSheet(f, "Ungrouped", []string{"Document ID", "Class", "Reason"})
	if err != nil {
		return err
	}
	for _, u := range ungrouped {
		row := sheet.AddRow()
		row.AddCell().SetString(u.DocumentID)
		row.AddCell().SetString("ungrouped")
		row.AddCell().SetString(u.Reason)
	}
	for _, s := range skipped {
		row := sheet.AddRow()
		row.AddCell().SetString(s.DocumentID)
		row.AddCell().SetString("skipped")
		row.AddCell().SetString(s.Reason)
	}
	return nil
}
