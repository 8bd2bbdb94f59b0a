package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ridgepoint-lending/docresolve/internal/manifest"
)

var importManifestPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a scanning-vendor manifest into the corpus",
	Long:  "Reads an XLSX or CSV document manifest and upserts its rows into the store. Re-importing a manifest is safe: existing rows keep their resolution labels.",
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

		docs, err := manifest.Read(importManifestPath)
		if err != nil {
			return eris.Wrap(err, "read manifest")
		}

		imported, err := st.BulkImportDocuments(ctx, docs)
		if err != nil {
			return eris.Wrap(err, "import documents")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", imported),
			zap.Int("rows", len(docs)),
			zap.String("manifest", importManifestPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importManifestPath, "manifest", "", "path to XLSX or CSV manifest (required)")
	_ = importCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(importCmd)
}
