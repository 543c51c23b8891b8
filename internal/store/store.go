// Package store persists finished experiments and serves them back as
// training rows and history.
package store

import (
	"context"
	"errors"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

// ErrNotFound is returned when an experiment id does not exist.
var ErrNotFound = errors.New("experiment not found")

// ExperimentStore is the persistence contract used after a batch terminates.
type ExperimentStore interface {
	// SaveExperiment stores exp and returns its id. An empty ID is assigned
	// a new UUID and a zero Timestamp is set to now.
	SaveExperiment(ctx context.Context, exp models.Experiment) (string, error)

	// GetExperiment returns the experiment with the given id or ErrNotFound.
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)

	// ListExperiments returns up to limit experiments, newest first.
	// A limit of zero or less returns all of them.
	ListExperiments(ctx context.Context, limit int) ([]models.Experiment, error)

	// CountExperiments returns the number of stored experiments.
	CountExperiments(ctx context.Context) (int, error)

	// LoadTrainingRows returns every experiment with a positive ground truth,
	// oldest first.
	LoadTrainingRows(ctx context.Context) ([]models.TrainingRow, error)

	Close() error
}
