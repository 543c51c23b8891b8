package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/features"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/process"
)

// HistorySource supplies labelled rows from past experiments.
type HistorySource interface {
	LoadTrainingRows(ctx context.Context) ([]models.TrainingRow, error)
}

// TrainerConfig controls how much history is required and how much
// synthetic data is generated.
type TrainerConfig struct {
	// SyntheticBatches is the bootstrap size used when history is too small.
	SyntheticBatches int `json:"synthetic_batches" yaml:"synthetic_batches"`

	// MinHistoryRows is the history size required to train on real data.
	MinHistoryRows int `json:"min_history_rows" yaml:"min_history_rows"`

	// AugmentBelowRows mixes in synthetic batches when history is smaller than this.
	AugmentBelowRows int `json:"augment_below_rows" yaml:"augment_below_rows"`

	// AugmentBatches is the number of synthetic batches mixed into small histories.
	AugmentBatches int `json:"augment_batches" yaml:"augment_batches"`
}

// DefaultTrainerConfig returns the standard training policy.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		SyntheticBatches: constants.DefaultSyntheticBatches,
		MinHistoryRows:   constants.DefaultMinHistoryRows,
		AugmentBelowRows: constants.DefaultAugmentBelowRows,
		AugmentBatches:   constants.DefaultAugmentBatches,
	}
}

// TrainReport summarises a training run.
type TrainReport struct {
	Source        string `json:"source"` // "history" or "synthetic"
	HistoryRows   int    `json:"history_rows"`
	SyntheticRows int    `json:"synthetic_rows"`
}

// Trainer fits an Ensemble from stored experiments, falling back to
// simulated batches when history is thin.
type Trainer struct {
	cfg   TrainerConfig
	bench *process.Bench
	log   *slog.Logger
}

// NewTrainer creates a trainer drawing synthetic batches from bench.
// The bench should be dedicated to training so run batch ids stay sequential.
func NewTrainer(cfg TrainerConfig, bench *process.Bench, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, bench: bench, log: logger}
}

// SyntheticRows simulates n complete batches and labels them with their
// ground truth.
func (t *Trainer) SyntheticRows(ctx context.Context, n int) ([]models.TrainingRow, error) {
	rows := make([]models.TrainingRow, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, truth := process.Run(t.bench.NewBatch())
		rows = append(rows, models.TrainingRow{
			Features:    features.Extract(records),
			GroundTruth: truth,
		})
	}
	return rows, nil
}

// Train fits e. With at least MinHistoryRows stored rows it trains on
// history (augmented when small); otherwise it bootstraps on synthetic data.
// A failing source is logged and treated as empty.
func (t *Trainer) Train(ctx context.Context, e *Ensemble, src HistorySource) (TrainReport, error) {
	var history []models.TrainingRow
	if src != nil {
		rows, err := src.LoadTrainingRows(ctx)
		if err != nil {
			t.log.Warn("loading training history failed, bootstrapping", "error", err)
		} else {
			history = rows
		}
	}

	report := TrainReport{Source: "synthetic"}
	var rows []models.TrainingRow

	if len(history) >= t.cfg.MinHistoryRows && len(history) > 0 {
		report.Source = "history"
		report.HistoryRows = len(history)
		rows = append(rows, history...)

		if len(history) < t.cfg.AugmentBelowRows {
			t.log.Info("history is small, augmenting with synthetic batches",
				"history_rows", len(history), "synthetic", t.cfg.AugmentBatches)
			syn, err := t.SyntheticRows(ctx, t.cfg.AugmentBatches)
			if err != nil {
				return report, fmt.Errorf("generating augmentation rows: %w", err)
			}
			rows = append(rows, syn...)
			report.SyntheticRows = len(syn)
		}
	} else {
		t.log.Info("bootstrapping oracle on synthetic batches",
			"history_rows", len(history), "synthetic", t.cfg.SyntheticBatches)
		syn, err := t.SyntheticRows(ctx, t.cfg.SyntheticBatches)
		if err != nil {
			return report, fmt.Errorf("generating bootstrap rows: %w", err)
		}
		rows = syn
		report.SyntheticRows = len(syn)
	}

	if err := e.Fit(rows); err != nil {
		return report, err
	}
	t.log.Debug("oracle trained", "source", report.Source, "rows", len(rows))
	return report, nil
}
