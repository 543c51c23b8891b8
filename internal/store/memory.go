package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/carbon-oracle/internal/models"
)

// InMemoryStore implements ExperimentStore for testing and dry runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]models.Experiment
	order       []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{experiments: make(map[string]models.Experiment)}
}

// SaveExperiment stores exp, replacing any experiment with the same id.
func (s *InMemoryStore) SaveExperiment(ctx context.Context, exp models.Experiment) (string, error) {
	if exp.BatchID == "" {
		return "", fmt.Errorf("batch ID is required")
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; !exists {
		s.order = append(s.order, exp.ID)
	}
	s.experiments[exp.ID] = exp
	return exp.ID, nil
}

// GetExperiment returns a copy of the experiment with the given id.
func (s *InMemoryStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &exp, nil
}

// sorted returns experiments oldest first. Callers hold the lock.
func (s *InMemoryStore) sorted() []models.Experiment {
	out := make([]models.Experiment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.experiments[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ListExperiments returns experiments newest first.
func (s *InMemoryStore) ListExperiments(ctx context.Context, limit int) ([]models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted()
	out := make([]models.Experiment, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CountExperiments returns the number of stored experiments.
func (s *InMemoryStore) CountExperiments(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.experiments), nil
}

// LoadTrainingRows returns rows with a positive ground truth, oldest first.
func (s *InMemoryStore) LoadTrainingRows(ctx context.Context) ([]models.TrainingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TrainingRow
	for _, exp := range s.sorted() {
		if exp.GroundTruth > 0 {
			out = append(out, models.TrainingRow{Features: exp.Features, GroundTruth: exp.GroundTruth})
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
