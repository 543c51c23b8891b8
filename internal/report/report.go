// Package report turns a finished batch into a Markdown report and a
// telemetry CSV.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/llm"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/pathutil"
	"github.com/nvandessel/carbon-oracle/internal/sanitize"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
)

// DirName is the reports directory under the .carbon directory.
const DirName = "reports"

// GoodCapacity is the measured capacity above which a batch counts as good.
const GoodCapacity = 2.0

// QualityLabel classifies a measured capacity as "good" or "bad".
func QualityLabel(capacity float64) string {
	if capacity > GoodCapacity {
		return "good"
	}
	return "bad"
}

// Paths are the files written for one batch.
type Paths struct {
	Markdown string `json:"markdown"`
	CSV      string `json:"csv"`
}

// Option configures an Analyst.
type Option func(*Analyst)

// WithLLM enables the AI assessment section.
func WithLLM(c llm.Client, timeout time.Duration) Option {
	return func(a *Analyst) {
		a.llm = c
		a.llmTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyst) { a.log = l }
}

// WithSimilarCases sets how many precedents are listed.
func WithSimilarCases(k int) Option {
	return func(a *Analyst) { a.similar = k }
}

// WithMetric sets how precedents are scored; nil means Euclidean proximity.
func WithMetric(m vectorsearch.Metric) Option {
	return func(a *Analyst) { a.metric = m }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyst) { a.now = now }
}

// Analyst writes batch reports into a single directory.
type Analyst struct {
	dir        string
	llm        llm.Client
	llmTimeout time.Duration
	similar    int
	metric     vectorsearch.Metric
	log        *slog.Logger
	now        func() time.Time
}

// NewAnalyst creates an Analyst writing into dir.
func NewAnalyst(dir string, opts ...Option) *Analyst {
	a := &Analyst{
		dir:     dir,
		similar: constants.DefaultSimilarCases,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dir returns the output directory.
func (a *Analyst) Dir() string { return a.dir }

// Write renders res against the past experiments and writes both files.
// The batch's own experiment is excluded from the precedents.
func (a *Analyst) Write(ctx context.Context, res *control.Result, past []models.Experiment) (Paths, error) {
	if res == nil {
		return Paths{}, fmt.Errorf("no batch result to report")
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("creating reports directory: %w", err)
	}

	precedents := vectorsearch.SimilarExperiments(res.FinalFeatures, excluding(past, res.ExperimentID), a.similar, a.metric)
	assessment := a.assess(ctx, res, precedents)
	generated := a.now().UTC()

	base := fmt.Sprintf("%s_%s", sanitize.FileComponent(res.BatchID), generated.Format("20060102-150405"))
	paths := Paths{
		Markdown: filepath.Join(a.dir, base+".md"),
		CSV:      filepath.Join(a.dir, base+"_telemetry.csv"),
	}
	for _, p := range []string{paths.Markdown, paths.CSV} {
		if _, err := pathutil.Within(p, []string{a.dir}); err != nil {
			return Paths{}, err
		}
	}

	var csvBuf strings.Builder
	if err := WriteTelemetryCSV(&csvBuf, res.History); err != nil {
		return Paths{}, err
	}
	if err := writeFileAtomic(paths.CSV, []byte(csvBuf.String())); err != nil {
		return Paths{}, err
	}

	md := Render(res, precedents, assessment, generated)
	if err := writeFileAtomic(paths.Markdown, []byte(md)); err != nil {
		return Paths{}, err
	}

	a.log.Info("report written", "batch", res.BatchID, "path", pathutil.RedactPath(paths.Markdown))
	return paths, nil
}

func excluding(past []models.Experiment, id string) []models.Experiment {
	if id == "" {
		return past
	}
	out := make([]models.Experiment, 0, len(past))
	for _, e := range past {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// assess returns the AI section body. It never fails: problems become a
// short note in the report.
func (a *Analyst) assess(ctx context.Context, res *control.Result, precedents []vectorsearch.Match) string {
	if a.llm == nil {
		return "_AI assessment disabled._"
	}
	if !a.llm.Available() {
		return "_AI assessment unavailable: provider is not configured._"
	}

	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	out, err := a.llm.Generate(ctx, llm.AnalystPrompt(Brief(res, precedents)))
	if err != nil {
		a.log.Warn("AI assessment failed", "batch", res.BatchID, "error", err)
		return "_AI assessment unavailable: the model request failed._"
	}
	text := sanitize.Assessment(llm.CleanResponse(out))
	if text == "" {
		return "_AI assessment unavailable: the model returned no text._"
	}
	return text
}

// Brief summarizes res for the analyst prompt.
func Brief(res *control.Result, precedents []vectorsearch.Match) llm.AnalystBrief {
	b := llm.AnalystBrief{
		BatchID:           res.BatchID,
		DurationMin:       res.DurationMin(),
		Outcome:           string(res.Outcome),
		StopReason:        res.StopReason,
		PredictedCapacity: res.FinalPrediction.Capacity,
		GroundTruth:       res.GroundTruth,
	}
	if n := len(res.History); n > 0 {
		b.PHStart = res.History[0].PH
		b.PHEnd = res.History[n-1].PH
		b.TempMax = math.Inf(-1)
		for _, r := range res.History {
			b.TempMean += r.Temperature
			b.TempMax = math.Max(b.TempMax, r.Temperature)
		}
		b.TempMean /= float64(n)
	}
	for _, m := range precedents {
		b.Precedents = append(b.Precedents, llm.Precedent{
			BatchID:    m.Experiment.BatchID,
			Capacity:   m.Experiment.GroundTruth,
			Quality:    QualityLabel(m.Experiment.GroundTruth),
			Similarity: m.Score,
		})
	}
	return b
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial report.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", pathutil.RedactPath(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", pathutil.RedactPath(path), err)
	}
	return nil
}
