package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
)

// TelemetryHeader is the first row of the telemetry CSV.
var TelemetryHeader = []string{"time_min", "ph", "conductivity", "temperature", "color_index", "weight_change"}

// WriteTelemetryCSV writes one row per telemetry record.
func WriteTelemetryCSV(w io.Writer, history []models.TelemetryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TelemetryHeader); err != nil {
		return fmt.Errorf("writing telemetry header: %w", err)
	}
	for _, r := range history {
		row := []string{
			strconv.Itoa(r.TimeMin),
			formatFloat(r.PH),
			formatFloat(r.Conductivity),
			formatFloat(r.Temperature),
			formatFloat(r.ColorIndex),
			formatFloat(r.WeightChange),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing telemetry row %d: %w", r.TimeMin, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Render builds the Markdown report.
func Render(res *control.Result, precedents []vectorsearch.Match, assessment string, generated time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Batch Report: %s\n\n", cell(res.BatchID))
	fmt.Fprintf(&b, "Generated %s\n\n", generated.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) { fmt.Fprintf(&b, "| %s | %s |\n", k, cell(v)) }
	if res.BatchType != "" {
		row("Batch type", string(res.BatchType))
	}
	row("Outcome", string(res.Outcome))
	if res.StopReason != "" {
		row("Stop reason", res.StopReason)
	}
	row("Duration", fmt.Sprintf("%d min", res.DurationMin()))
	row("Predicted capacity", fmt.Sprintf("%.2f mmol/g (confidence %.2f)", res.FinalPrediction.Capacity, res.FinalPrediction.Confidence))
	row("Measured capacity", fmt.Sprintf("%.2f mmol/g (%s)", res.GroundTruth, QualityLabel(res.GroundTruth)))
	row("Prediction error", fmt.Sprintf("%+.2f mmol/g", res.FinalPrediction.Capacity-res.GroundTruth))
	row("Interventions", strconv.Itoa(res.Actuations))
	if res.ExperimentID != "" {
		row("Experiment", res.ExperimentID)
	}

	b.WriteString("\n## Final Features\n\n")
	vec := res.FinalFeatures.Vector()
	b.WriteString("| " + strings.Join(models.FeatureNames[:], " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", models.FeatureCount) + "\n")
	b.WriteString("|")
	for _, v := range vec {
		fmt.Fprintf(&b, " %.4g |", v)
	}
	b.WriteString("\n")

	b.WriteString("\n## Decision Timeline\n\n")
	if len(res.Ticks) == 0 {
		b.WriteString("_No prediction ticks._\n")
	} else {
		b.WriteString("| Min | pH | Temp (C) | Capacity | Confidence | Action | Reason | Command |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, t := range res.Ticks {
			command := ""
			if adj := t.Decision.Adjustment; adj != nil {
				command = adj.String()
				if !t.ActuationOK {
					command += " (rejected)"
				}
			}
			reason := t.Decision.Reason
			if t.OracleError != "" {
				reason += " [oracle: " + t.OracleError + "]"
			}
			fmt.Fprintf(&b, "| %d | %.2f | %.1f | %.2f | %.2f | %s | %s | %s |\n",
				t.Record.TimeMin, t.Record.PH, t.Record.Temperature,
				t.Prediction.Capacity, t.Prediction.Confidence,
				t.Decision.Action, cell(reason), cell(command))
		}
	}

	b.WriteString("\n## Similar Past Batches\n\n")
	if len(precedents) == 0 {
		b.WriteString("_No past experiments on record._\n")
	} else {
		b.WriteString("| Batch | Date | Capacity | Quality | Similarity |\n|---|---|---|---|---|\n")
		for _, m := range precedents {
			e := m.Experiment
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s | %.2f |\n",
				cell(e.BatchID), e.Timestamp.UTC().Format("2006-01-02"), e.GroundTruth, QualityLabel(e.GroundTruth), m.Score)
		}
	}

	b.WriteString("\n## AI Assessment\n\n")
	b.WriteString(assessment)
	b.WriteString("\n")
	return b.String()
}

// cell makes s safe inside a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
