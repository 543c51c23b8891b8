package report

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/llm"
	"github.com/nvandessel/carbon-oracle/internal/logging"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleResult() *control.Result {
	history := []models.TelemetryRecord{
		{TimeMin: 0, PH: 10.5, Conductivity: 1, Temperature: 25, ColorIndex: 0},
		{TimeMin: 1, PH: 10.1, Conductivity: 1.2, Temperature: 95, ColorIndex: 0.1, WeightChange: -0.05},
		{TimeMin: 2, PH: 9.8, Conductivity: 1.4, Temperature: 160, ColorIndex: 0.2, WeightChange: -0.1},
	}
	adj := models.SetTemperature(800)
	return &control.Result{
		BatchID:   "BATCH_001",
		BatchType: models.BatchNormal,
		History:   history,
		Ticks: []control.Tick{
			{Index: 0, Record: history[0], Decision: models.AgentDecision{Action: models.ActionContinue, Reason: "warmup: 0/60 min"}},
			{Index: 2, Record: history[2], Prediction: models.PredictionResult{Capacity: 2.5, Confidence: 0.9},
				Decision: models.AgentDecision{Action: models.ActionWarn, Reason: "temp | too high", Adjustment: adj}},
		},
		FinalFeatures:   models.ExtractedFeatures{PHFinal: 9.8, PHSlope: -0.35, TempMean: 93.3, TempStd: 55, ColorPeak: 0.2, WeightLoss: -0.1},
		FinalPrediction: models.PredictionResult{Capacity: 2.5, Confidence: 0.9},
		GroundTruth:     2.3,
		Outcome:         models.OutcomeCompleted,
		ExperimentID:    "exp-self",
	}
}

func pastExperiments() []models.Experiment {
	return []models.Experiment{
		{ID: "exp-self", BatchID: "BATCH_001", Features: sampleResult().FinalFeatures, GroundTruth: 2.3},
		{ID: "exp-a", BatchID: "BATCH_PREV", Timestamp: fixedTime.Add(-24 * time.Hour),
			Features: models.ExtractedFeatures{PHFinal: 9.7, PHSlope: -0.3, TempMean: 90, TempStd: 50, ColorPeak: 0.2, WeightLoss: -0.1}, GroundTruth: 1.4},
		{ID: "exp-b", BatchID: "BATCH_FAR", Timestamp: fixedTime.Add(-48 * time.Hour),
			Features: models.ExtractedFeatures{PHFinal: 6, PHSlope: -0.01, TempMean: 850, TempStd: 10, ColorPeak: 0.9, WeightLoss: -3}, GroundTruth: 2.9},
	}
}

func TestQualityLabel(t *testing.T) {
	tests := []struct {
		capacity float64
		want     string
	}{
		{2.5, "good"},
		{2.01, "good"},
		{2.0, "bad"},
		{0.1, "bad"},
	}
	for _, tt := range tests {
		if got := QualityLabel(tt.capacity); got != tt.want {
			t.Errorf("QualityLabel(%v) = %q, want %q", tt.capacity, got, tt.want)
		}
	}
}

func TestWriteTelemetryCSV(t *testing.T) {
	var b strings.Builder
	if err := WriteTelemetryCSV(&b, sampleResult().History); err != nil {
		t.Fatalf("WriteTelemetryCSV() error = %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(b.String())).ReadAll()
	if err != nil {
		t.Fatalf("reading CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if strings.Join(rows[0], ",") != "time_min,ph,conductivity,temperature,color_index,weight_change" {
		t.Errorf("header = %v", rows[0])
	}
	if strings.Join(rows[2], ",") != "1,10.1,1.2,95,0.1,-0.05" {
		t.Errorf("row = %v", rows[2])
	}
}

func TestRender(t *testing.T) {
	res := sampleResult()
	res.Ticks[1].ActuationOK = false
	precedents := []vectorsearch.Match{{Experiment: pastExperiments()[1], Score: 0.8}}

	md := Render(res, precedents, "_AI assessment disabled._", fixedTime)

	for _, want := range []string{
		"# Batch Report: BATCH_001",
		"Generated 2026-01-02T03:04:05Z",
		"| Batch type | normal |",
		"| Outcome | completed |",
		"| Duration | 2 min |",
		"| Measured capacity | 2.30 mmol/g (good) |",
		"| Prediction error | +0.20 mmol/g |",
		"| ph_final | ph_slope | temp_mean | temp_std | color_peak | weight_loss |",
		"## Decision Timeline",
		`temp \| too high`,
		"set_temp:800 (rejected)",
		"| BATCH_PREV | 2026-01-01 | 1.40 | bad | 0.80 |",
		"## AI Assessment\n\n_AI assessment disabled._",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(md, "Stop reason") {
		t.Error("completed batch should not list a stop reason")
	}
}

func TestRender_Empty(t *testing.T) {
	res := &control.Result{BatchID: "B", Outcome: models.OutcomeCancelled}
	md := Render(res, nil, "", fixedTime)

	for _, want := range []string{"_No prediction ticks._", "_No past experiments on record._", "| Duration | 0 min |"} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestBrief(t *testing.T) {
	precedents := []vectorsearch.Match{{Experiment: pastExperiments()[2], Score: 0.4}}
	b := Brief(sampleResult(), precedents)

	if b.PHStart != 10.5 || b.PHEnd != 9.8 {
		t.Errorf("pH = %v -> %v", b.PHStart, b.PHEnd)
	}
	if math.Abs(b.TempMean-(25+95+160)/3.0) > 1e-9 || b.TempMax != 160 {
		t.Errorf("temp mean/max = %v/%v", b.TempMean, b.TempMax)
	}
	if b.DurationMin != 2 || b.GroundTruth != 2.3 || b.PredictedCapacity != 2.5 {
		t.Errorf("brief = %+v", b)
	}
	if len(b.Precedents) != 1 || b.Precedents[0].Quality != "good" || b.Precedents[0].BatchID != "BATCH_FAR" {
		t.Errorf("precedents = %+v", b.Precedents)
	}
}

func newTestAnalyst(t *testing.T, opts ...Option) *Analyst {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithClock(func() time.Time { return fixedTime })}, opts...)
	return NewAnalyst(filepath.Join(t.TempDir(), ".carbon", DirName), opts...)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestAnalystWrite(t *testing.T) {
	a := newTestAnalyst(t, WithSimilarCases(1))

	paths, err := a.Write(context.Background(), sampleResult(), pastExperiments())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if filepath.Base(paths.Markdown) != "BATCH_001_20260102-030405.md" {
		t.Errorf("markdown file = %s", paths.Markdown)
	}
	if filepath.Base(paths.CSV) != "BATCH_001_20260102-030405_telemetry.csv" {
		t.Errorf("csv file = %s", paths.CSV)
	}

	md := readFile(t, paths.Markdown)
	if !strings.Contains(md, "BATCH_PREV") {
		t.Error("nearest past batch should be listed")
	}
	if strings.Contains(md, "| BATCH_001 |") {
		t.Error("the batch itself must not be its own precedent")
	}
	if !strings.Contains(md, "_AI assessment disabled._") {
		t.Error("assessment should be disabled without a client")
	}

	if lines := strings.Count(readFile(t, paths.CSV), "\n"); lines != 4 {
		t.Errorf("csv has %d lines, want 4", lines)
	}

	entries, _ := os.ReadDir(a.Dir())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestAnalystWrite_HostileBatchID(t *testing.T) {
	a := newTestAnalyst(t)
	res := sampleResult()
	res.BatchID = "../../etc/passwd"

	paths, err := a.Write(context.Background(), res, nil)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Dir(paths.Markdown) != a.Dir() {
		t.Errorf("report escaped its directory: %s", paths.Markdown)
	}
	if !strings.HasPrefix(filepath.Base(paths.Markdown), "etc_passwd_") {
		t.Errorf("file name = %s", filepath.Base(paths.Markdown))
	}
}

func TestAnalystWrite_Assessment(t *testing.T) {
	tests := []struct {
		name   string
		client *llm.MockClient
		want   string
	}{
		{
			name:   "model reply",
			client: llm.NewMockClient().WithReply("```markdown\n## Diagnosis\nToo cold.\n## Optimization\nRaise to 800 C.\n```"),
			want:   "**Diagnosis**\nToo cold.\n**Optimization**\nRaise to 800 C.",
		},
		{
			name:   "model error",
			client: llm.NewMockClient().WithError(errors.New("timeout")),
			want:   "the model request failed",
		},
		{
			name:   "empty reply",
			client: llm.NewMockClient().WithReply("   "),
			want:   "the model returned no text",
		},
		{
			name:   "not configured",
			client: llm.NewMockClient().WithAvailable(false),
			want:   "provider is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalyst(t, WithLLM(tt.client, time.Second))
			paths, err := a.Write(context.Background(), sampleResult(), pastExperiments())
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if md := readFile(t, paths.Markdown); !strings.Contains(md, tt.want) {
				t.Errorf("report missing %q", tt.want)
			}
		})
	}
}

func TestAnalystWrite_PromptContents(t *testing.T) {
	client := llm.NewMockClient().WithReply("ok")
	a := newTestAnalyst(t, WithLLM(client, 0))

	if _, err := a.Write(context.Background(), sampleResult(), pastExperiments()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if client.CallCount() != 1 {
		t.Fatalf("Generate called %d times, want 1", client.CallCount())
	}
	prompt := client.Prompts[0]
	for _, want := range []string{"Batch BATCH_001", "10.50 -> 9.80", "BATCH_PREV"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAnalystWrite_NilResult(t *testing.T) {
	if _, err := newTestAnalyst(t).Write(context.Background(), nil, nil); err == nil {
		t.Error("expected error for nil result")
	}
}
