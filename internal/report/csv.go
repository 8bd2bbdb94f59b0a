package report

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/rotisserie/eris"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// resolutionColumns defines the ordered CSV output columns.
var resolutionColumns = []string{
	"document_id",
	"status",
	"is_latest_version",
	"reason",
}

// ExportCSV writes the resolution labels as a flat CSV file.
func ExportCSV(report *model.RunReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(resolutionColumns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}

	for _, r := range report.Resolved {
		row := []string{
			r.DocumentID,
			string(r.Status),
			fmt.Sprintf("%t", r.IsLatestVersion),
			r.Reason,
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "report: flush csv")
}
