package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
)

var fingerprintLoanID string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Fingerprint a loan's documents without resolving",
	Long:  "Computes and persists exact, content, and metadata fingerprints for every document in a loan's corpus. Useful for pre-warming a corpus before a full resolve.",
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

		docs, err := st.ListDocuments(ctx, fingerprintLoanID)
		if err != nil {
			return eris.Wrap(err, "list documents")
		}
		if len(docs) == 0 {
			zap.L().Warn("no documents found", zap.String("loan", fingerprintLoanID))
			return nil
		}

		for _, doc := range docs {
			if doc.Extraction != nil {
				continue
			}
			extraction, err := st.GetStructuredExtraction(ctx, doc.ID)
			if err != nil {
				return eris.Wrapf(err, "load extraction for %s", doc.ID)
			}
			doc.Extraction = extraction
		}

		engine := fingerprint.NewEngine()
		results := fingerprint.FingerprintAll(ctx, engine, docs, cfg.Fingerprint.Concurrency)

		var persisted, failed int
		for _, res := range results {
			if res.Err != nil {
				failed++
				zap.L().Warn("fingerprint failed",
					zap.String("document", res.DocumentID),
					zap.Error(res.Err),
				)
				continue
			}
			if err := st.SetFingerprint(ctx, res.Fingerprint); err != nil {
				return eris.Wrapf(err, "persist fingerprint for %s", res.DocumentID)
			}
			persisted++
		}

		zap.L().Info("fingerprinting complete",
			zap.String("loan", fingerprintLoanID),
			zap.Int("documents", len(docs)),
			zap.Int("persisted", persisted),
			zap.Int("failed", failed),
		)
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintLoanID, "loan", "", "loan ID (required)")
	_ = fingerprintCmd.MarkFlagRequired("loan")
	rootCmd.AddCommand(fingerprintCmd)
}
