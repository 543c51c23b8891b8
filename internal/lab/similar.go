package lab

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
)

// Ref names a stored experiment by id or by batch id.
type Ref struct {
	ExperimentID string
	BatchID      string
}

func (r Ref) String() string {
	if r.ExperimentID != "" {
		return r.ExperimentID
	}
	return r.BatchID
}

// FindSimilar loads the experiment named by ref and ranks every other
// stored experiment against its final features using metric (nil means
// Euclidean proximity). A batch id that was reused
// resolves to its newest run. An unknown experiment id never falls back to
// the batch id.
func FindSimilar(ctx context.Context, s store.ExperimentStore, ref Ref, k int, metric vectorsearch.Metric) (models.Experiment, []vectorsearch.Match, error) {
	if ref.ExperimentID == "" && ref.BatchID == "" {
		return models.Experiment{}, nil, errors.New("an experiment id or batch id is required")
	}

	all, err := s.ListExperiments(ctx, 0)
	if err != nil {
		return models.Experiment{}, nil, fmt.Errorf("listing experiments: %w", err)
	}

	query, ok := lookup(all, ref)
	if !ok {
		return models.Experiment{}, nil, fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	}

	past := make([]models.Experiment, 0, len(all))
	for _, exp := range all {
		if exp.ID != query.ID {
			past = append(past, exp)
		}
	}
	return query, vectorsearch.SimilarExperiments(query.Features, past, k, metric), nil
}

// lookup expects all newest first.
func lookup(all []models.Experiment, ref Ref) (models.Experiment, bool) {
	for _, exp := range all {
		if ref.ExperimentID != "" && exp.ID == ref.ExperimentID {
			return exp, true
		}
	}
	if ref.ExperimentID != "" {
		return models.Experiment{}, false
	}
	for _, exp := range all {
		if exp.BatchID == ref.BatchID {
			return exp, true
		}
	}
	return models.Experiment{}, false
}
