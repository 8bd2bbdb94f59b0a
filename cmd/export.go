package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/report"
)

var exportOutPath string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's report to XLSX or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load run")
		}
		if run.Report == nil {
			return eris.Errorf("run %s has no report yet (status: %s)", run.ID, run.Status)
		}

		switch {
		case strings.HasSuffix(strings.ToLower(exportOutPath), ".xlsx"):
			err = report.ExportXLSX(run.Report, exportOutPath)
		case strings.HasSuffix(strings.ToLower(exportOutPath), ".csv"):
			err = report.ExportCSV(run.Report, exportOutPath)
		default:
			return eris.Errorf("unsupported export format: %s (use .xlsx or .csv)", exportOutPath)
		}
		if err != nil {
			return eris.Wrap(err, "export report")
		}

		zap.L().Info("export complete",
			zap.String("run", run.ID),
			zap.String("out", exportOutPath),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "report.xlsx", "output path (.xlsx or .csv)")
	rootCmd.AddCommand(exportCmd)
}
