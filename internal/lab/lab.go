// Package lab wires the simulator, oracle, control loop, store and reporting
// into a single experiment session shared by the CLI and the MCP server.
package lab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/nvandessel/carbon-oracle/internal/config"
	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/logging"
	"github.com/nvandessel/carbon-oracle/internal/metrics"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/oracle"
	"github.com/nvandessel/carbon-oracle/internal/process"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/store"
)

// trainingSeedOffset keeps the training bench's stream apart from the run bench.
const trainingSeedOffset = 0x5eed

// Options configures a Lab. Config and Store are required.
type Options struct {
	Config *config.CarbonConfig
	Store  store.ExperimentStore

	// Seed makes the batch sequence reproducible. Zero falls back to
	// Config.Oracle.Seed, then to a random seed.
	Seed uint64

	// BatchType forces every batch to one variant.
	BatchType models.BatchType

	// Analyst writes a report per batch; nil disables reports.
	Analyst *report.Analyst

	// Overrides are operator commands sent to every batch.
	Overrides []control.Override

	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Decisions *logging.DecisionLogger
	Observer  func(control.Tick)
}

// BatchRun is the outcome of one batch plus its report files.
type BatchRun struct {
	Result    *control.Result `json:"result"`
	Report    *report.Paths   `json:"report,omitempty"`
	ReportErr error           `json:"-"`
}

// Lab runs batches one at a time against a trained oracle.
type Lab struct {
	mu       sync.Mutex
	store    store.ExperimentStore
	analyst  *report.Analyst
	ensemble *oracle.Ensemble
	trainer  *oracle.Trainer
	loop     *control.Loop
	log      *slog.Logger
	trained  *oracle.TrainReport
}

// New validates the configuration and builds the session. Batch ids
// continue after the experiments already in the store.
func New(ctx context.Context, opts Options) (*Lab, error) {
	if opts.Config == nil {
		return nil, errors.New("lab: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("lab: store is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.BatchType != "" && !opts.BatchType.Valid() {
		return nil, fmt.Errorf("unknown batch type %q", opts.BatchType)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = opts.Config.Oracle.Seed
	}
	if seed == 0 {
		seed = rand.Uint64()
	}

	offset, err := opts.Store.CountExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting experiments: %w", err)
	}

	benchOpts := []process.BenchOption{
		process.WithBenchDuration(opts.Config.Loop.ExperimentDurationMin),
		process.WithBenchLogger(log),
		process.WithBenchOffset(offset),
	}
	if opts.BatchType != "" {
		benchOpts = append(benchOpts, process.WithBenchBatchType(opts.BatchType))
	}
	bench := process.NewSeededBench(seed, benchOpts...)

	// Synthetic training batches are always mixed-variant and run quietly.
	trainingBench := process.NewSeededBench(seed+trainingSeedOffset,
		process.WithBenchDuration(opts.Config.Loop.ExperimentDurationMin),
		process.WithBenchLogger(logging.Discard()))

	ensemble := oracle.NewEnsemble(
		oracle.WithSize(opts.Config.Oracle.EnsembleSize),
		oracle.WithLambda(opts.Config.Oracle.RidgeLambda),
		oracle.WithRand(rand.New(rand.NewPCG(seed, ^seed))),
	)

	loop, err := control.NewLoop(opts.Config.ControlConfig(),
		func() control.Plant { return bench.NewBatch() },
		ensemble,
		control.WithStore(opts.Store),
		control.WithLogger(log),
		control.WithMetrics(opts.Metrics),
		control.WithDecisionLogger(opts.Decisions),
		control.WithObserver(opts.Observer),
		control.WithOverrides(opts.Overrides),
	)
	if err != nil {
		return nil, err
	}

	log.Debug("lab ready", "seed", seed, "first_batch", offset+1)

	return &Lab{
		store:    opts.Store,
		analyst:  opts.Analyst,
		ensemble: ensemble,
		trainer:  oracle.NewTrainer(opts.Config.TrainerConfig(), trainingBench, log),
		loop:     loop,
		log:      log,
	}, nil
}

// Train fits the oracle from the store, bootstrapping on synthetic batches
// when history is thin.
func (l *Lab) Train(ctx context.Context) (oracle.TrainReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.train(ctx)
}

func (l *Lab) train(ctx context.Context) (oracle.TrainReport, error) {
	rep, err := l.trainer.Train(ctx, l.ensemble, l.store)
	if err != nil {
		return rep, fmt.Errorf("training oracle: %w", err)
	}
	l.trained = &rep
	return rep, nil
}

// TrainReport returns the last training summary, or nil before training.
func (l *Lab) TrainReport() *oracle.TrainReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trained == nil {
		return nil
	}
	rep := *l.trained
	return &rep
}

// RunBatch trains the oracle if needed, runs the next batch and writes its
// report. A cancelled batch returns its partial result with the error and
// gets no report. A report failure is recorded on the BatchRun, not returned.
func (l *Lab) RunBatch(ctx context.Context) (*BatchRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ensemble.Available() {
		if _, err := l.train(ctx); err != nil {
			return nil, err
		}
	}

	res, err := l.loop.Run(ctx)
	run := &BatchRun{Result: res}
	if err != nil {
		return run, err
	}

	if l.analyst != nil {
		past, perr := l.store.ListExperiments(ctx, 0)
		if perr != nil {
			l.log.Warn("loading past experiments for report failed", "error", perr)
		}
		paths, rerr := l.analyst.Write(ctx, res, past)
		if rerr != nil {
			run.ReportErr = rerr
			l.log.Warn("writing report failed", "batch", res.BatchID, "error", rerr)
		} else {
			run.Report = &paths
		}
	}
	return run, nil
}

// RunBatches runs n batches in sequence, stopping at the first error.
func (l *Lab) RunBatches(ctx context.Context, n int) ([]*BatchRun, error) {
	runs := make([]*BatchRun, 0, n)
	for i := 0; i < n; i++ {
		run, err := l.RunBatch(ctx)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// Summary is the compact view of a BatchRun, without telemetry.
type Summary struct {
	BatchID           string  `json:"batch_id"`
	BatchType         string  `json:"batch_type,omitempty"`
	Outcome           string  `json:"outcome"`
	StopReason        string  `json:"stop_reason,omitempty"`
	DurationMin       int     `json:"duration_min"`
	PredictedCapacity float64 `json:"pred_capacity"`
	Confidence        float64 `json:"confidence"`
	GroundTruth       float64 `json:"ground_truth"`
	Quality           string  `json:"quality"`
	Interventions     int     `json:"interventions"`
	Overrides         int     `json:"overrides,omitempty"`
	ExperimentID      string  `json:"experiment_id,omitempty"`
	PersistError      string  `json:"persist_error,omitempty"`
	ReportPath        string  `json:"report_path,omitempty"`
	TelemetryPath     string  `json:"telemetry_path,omitempty"`
	ReportError       string  `json:"report_error,omitempty"`
}

// Summary condenses the run. A run without a result yields a zero Summary.
func (r *BatchRun) Summary() Summary {
	if r == nil || r.Result == nil {
		return Summary{}
	}
	res := r.Result
	s := Summary{
		BatchID:           res.BatchID,
		BatchType:         string(res.BatchType),
		Outcome:           string(res.Outcome),
		StopReason:        res.StopReason,
		DurationMin:       res.DurationMin(),
		PredictedCapacity: res.FinalPrediction.Capacity,
		Confidence:        res.FinalPrediction.Confidence,
		GroundTruth:       res.GroundTruth,
		Quality:           report.QualityLabel(res.GroundTruth),
		Interventions:     res.Actuations,
		Overrides:         res.Overrides,
		ExperimentID:      res.ExperimentID,
	}
	if res.PersistErr != nil {
		s.PersistError = res.PersistErr.Error()
	}
	if r.Report != nil {
		s.ReportPath = r.Report.Markdown
		s.TelemetryPath = r.Report.CSV
	}
	if r.ReportErr != nil {
		s.ReportError = r.ReportErr.Error()
	}
	return s
}
