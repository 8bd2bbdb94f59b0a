package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/pipeline"
	"github.com/ridgepoint-lending/docresolve/internal/resolve"
)

var resolveLoanID string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run full resolution for a loan's corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ocl, err := initOracle()
		if err != nil {
			return err
		}

		tuning, err := resolve.LoadTuning(cfg.Resolve.TuningPath)
		if err != nil {
			return eris.Wrap(err, "load resolver tuning")
		}

		p := pipeline.New(cfg, st, ocl, tuning)

		report, err := p.Run(ctx, resolveLoanID)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("resolution complete",
			zap.String("loan", resolveLoanID),
			zap.Int("input", report.TotalInput),
			zap.Int("resolved", len(report.Resolved)),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("ungrouped", len(report.Ungrouped)),
			zap.Int("errors", len(report.Errors)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveLoanID, "loan", "", "loan ID (required)")
	_ = resolveCmd.MarkFlagRequired("loan")
	rootCmd.AddCommand(resolveCmd)
}
