package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored experiments",
		Long: `List finished batches stored in .carbon/experiments.db, newest first.

Examples:
  carbon history                         # Latest 20 batches
  carbon history --limit 0               # Everything
  carbon history export backup.jsonl     # Dump all experiments as JSONL
  carbon history import backup.jsonl     # Load experiments from JSONL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			exps, err := expStore.ListExperiments(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list experiments: %w", err)
			}

			if jsonOut {
				if exps == nil {
					exps = []models.Experiment{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"experiments": exps,
					"count":       len(exps),
				})
			}
			printHistory(cmd.OutOrStdout(), exps)
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of experiments to show (0 = all)")
	cmd.AddCommand(newHistoryExportCmd(), newHistoryImportCmd())
	return cmd
}

func printHistory(w io.Writer, exps []models.Experiment) {
	if len(exps) == 0 {
		fmt.Fprintln(w, "No experiments on record. Run a batch with 'carbon run'.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tTYPE\tOUTCOME\tMIN\tPRED\tTRUE\tQUALITY\tRECORDED")
	for _, e := range exps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\t%s\n",
			e.BatchID, valueOrDefault(string(e.BatchType), "-"), valueOrDefault(string(e.Outcome), "-"),
			e.DurationMin, e.PredictedCapacity, e.GroundTruth, report.QualityLabel(e.GroundTruth),
			e.Timestamp.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d experiment(s)\n", len(exps))
}

func newHistoryExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all experiments as JSONL (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			if len(args) == 0 || args[0] == "-" {
				_, err := store.ExportJSONL(cmd.Context(), expStore, cmd.OutOrStdout())
				return err
			}

			path := args[0]
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			n, err := store.ExportJSONL(cmd.Context(), expStore, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"exported": n,
					"path":     path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d experiment(s) to %s\n", n, path)
			return nil
		},
	}
}

func newHistoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import experiments from a JSONL export",
		Long: `Import experiments written by 'carbon history export'.

Experiments keep their ids, so importing the same file twice replaces
rather than duplicates. Malformed lines are skipped with a warning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			n, err := store.ImportJSONL(cmd.Context(), expStore, f, logger)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"imported": n,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d experiment(s)\n", n)
			return nil
		},
	}
}

func valueOrDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
