package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/dedupe"
	"github.com/ridgepoint-lending/docresolve/internal/fingerprint"
	"github.com/ridgepoint-lending/docresolve/internal/model"
)

var dedupeLoanID string

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Detect duplicates for a loan without resolving",
	Long:  "Fingerprints the corpus in memory and prints the tiered duplicate report as JSON. Nothing is written back; use resolve to persist labels.",
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

		docs, err := st.ListDocuments(ctx, dedupeLoanID)
		if err != nil {
			return eris.Wrap(err, "list documents")
		}
		if len(docs) == 0 {
			zap.L().Warn("no documents found", zap.String("loan", dedupeLoanID))
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

		detector := dedupe.NewDetector(cfg.Dedupe)
		dupReport := detector.Detect(dedupeLoanID, docs, results)

		zap.L().Info("dedupe complete",
			zap.String("loan", dedupeLoanID),
			zap.Int("documents", len(docs)),
			zap.Int("groups", len(dupReport.Groups)),
			zap.Int("exact", dupReport.CountsByTier[model.TierExact]),
			zap.Int("content", dupReport.CountsByTier[model.TierContent]),
			zap.Int("metadata", dupReport.CountsByTier[model.TierMetadata]),
			zap.Int("similar", dupReport.CountsByTier[model.TierSimilar]),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dupReport)
	},
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupeLoanID, "loan", "", "loan ID (required)")
	_ = dedupeCmd.MarkFlagRequired("loan")
	rootCmd.AddCommand(dedupeCmd)
}
