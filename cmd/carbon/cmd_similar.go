package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nvandessel/carbon-oracle/internal/lab"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
	"github.com/spf13/cobra"
)

func newSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <batch-id|experiment-id>",
		Short: "Show past batches closest to a stored batch",
		Long: `Rank stored experiments by the distance between their final feature
vectors and those of the given batch. Features are standardized over the
history first, so pH and temperature weigh in on the same scale.
With --metric cosine, batches are ranked by the direction of their
deviation from the average run instead of its distance.

Arguments that look like BATCH_nnn are matched as batch ids (newest run
wins); anything else is treated as an experiment id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			k, _ := cmd.Flags().GetInt("k")
			if k < 1 {
				return fmt.Errorf("--k must be at least 1, got %d", k)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			metricName, _ := cmd.Flags().GetString("metric")
			if metricName == "" {
				metricName = cfg.Similarity.Metric
			}
			metric, err := vectorsearch.MetricByName(metricName)
			if err != nil {
				return err
			}

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			query, matches, err := lab.FindSimilar(cmd.Context(), expStore, parseRef(args[0]), k, metric)
			if err != nil {
				return err
			}

			if jsonOut {
				type match struct {
					BatchID     string  `json:"batch_id"`
					ID          string  `json:"id"`
					GroundTruth float64 `json:"ground_truth"`
					Similarity  float64 `json:"similarity"`
				}
				out := make([]match, 0, len(matches))
				for _, m := range matches {
					out = append(out, match{m.Experiment.BatchID, m.Experiment.ID, m.Experiment.GroundTruth, m.Score})
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"query":   query,
					"matches": out,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: measured %.2f mmol/g (%s)\n\n", query.BatchID, query.GroundTruth, report.QualityLabel(query.GroundTruth))
			if len(matches) == 0 {
				fmt.Fprintln(w, "No other batches on record.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tOUTCOME\tTRUE\tQUALITY\tSIMILARITY")
			for _, m := range matches {
				e := m.Experiment
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%.3f\n",
					e.BatchID, valueOrDefault(string(e.Outcome), "-"), e.GroundTruth, report.QualityLabel(e.GroundTruth), m.Score)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("k", 3, "Number of similar batches to show")
	cmd.Flags().String("metric", "", "Similarity metric: euclidean or cosine (default: from config)")
	return cmd
}

// parseRef treats BATCH_-prefixed arguments as batch ids.
func parseRef(arg string) lab.Ref {
	if strings.HasPrefix(strings.ToUpper(arg), "BATCH_") {
		return lab.Ref{BatchID: strings.ToUpper(arg)}
	}
	return lab.Ref{ExperimentID: arg}
}
