package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

func sampleExperiment(batchID string, truth float64, ts time.Time) models.Experiment {
	return models.Experiment{
		BatchID:   batchID,
		BatchType: models.BatchNormal,
		Timestamp: ts,
		Features: models.ExtractedFeatures{
			PHFinal: 9.1, PHSlope: -0.02, TempMean: 780.5, TempStd: 120.25, ColorPeak: 0.81, WeightLoss: -0.31,
		},
		GroundTruth:       truth,
		PredictedCapacity: 2.4,
		Outcome:           models.OutcomeCompleted,
		StopReason:        "",
		DurationMin:       180,
	}
}

// storeFactories lets the contract tests run against every implementation.
func storeFactories(t *testing.T) map[string]func() ExperimentStore {
	return map[string]func() ExperimentStore{
		"sqlite": func() ExperimentStore {
			s, err := NewSQLiteStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
		"memory": func() ExperimentStore { return NewInMemoryStore() },
	}
}

func TestNewSQLiteStore_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()

	s, err := NewSQLiteStore(tmpDir)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(tmpDir, ".carbon", "experiments.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("experiments.db was not created")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(tmpDir)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	id, err := s.SaveExperiment(ctx, sampleExperiment("BATCH_001", 2.5, time.Now()))
	if err != nil {
		t.Fatalf("SaveExperiment() error = %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(tmpDir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.GetExperiment(ctx, id)
	if err != nil {
		t.Fatalf("GetExperiment() error = %v", err)
	}
	if got.BatchID != "BATCH_001" {
		t.Errorf("BatchID = %q, want BATCH_001", got.BatchID)
	}
}

func TestExperimentStore_SaveAndGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			want := sampleExperiment("BATCH_007", 3.12, ts)
			want.Outcome = models.OutcomeTargetReached
			want.StopReason = "target reached"

			id, err := s.SaveExperiment(ctx, want)
			if err != nil {
				t.Fatalf("SaveExperiment() error = %v", err)
			}
			if id == "" {
				t.Fatal("SaveExperiment() returned empty id")
			}

			got, err := s.GetExperiment(ctx, id)
			if err != nil {
				t.Fatalf("GetExperiment() error = %v", err)
			}
			want.ID = id
			if !got.Timestamp.Equal(want.Timestamp) {
				t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
			}
			got.Timestamp = want.Timestamp
			if *got != want {
				t.Errorf("GetExperiment() = %+v, want %+v", *got, want)
			}
		})
	}
}

func TestExperimentStore_Validation(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			if _, err := s.SaveExperiment(context.Background(), models.Experiment{}); err == nil {
				t.Error("expected error for missing batch ID")
			}
			_, err := s.GetExperiment(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("GetExperiment() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestExperimentStore_ListCountAndTraining(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			truths := []float64{2.1, 0, 3.4, 1.2}
			for i, truth := range truths {
				exp := sampleExperiment("BATCH_00"+string(rune('1'+i)), truth, base.Add(time.Duration(i)*time.Hour))
				if _, err := s.SaveExperiment(ctx, exp); err != nil {
					t.Fatalf("SaveExperiment() error = %v", err)
				}
			}

			n, err := s.CountExperiments(ctx)
			if err != nil || n != 4 {
				t.Fatalf("CountExperiments() = %d, %v; want 4", n, err)
			}

			list, err := s.ListExperiments(ctx, 2)
			if err != nil {
				t.Fatalf("ListExperiments() error = %v", err)
			}
			if len(list) != 2 || list[0].BatchID != "BATCH_004" || list[1].BatchID != "BATCH_003" {
				t.Errorf("ListExperiments(2) = %v, want BATCH_004, BATCH_003", batchIDs(list))
			}

			all, _ := s.ListExperiments(ctx, 0)
			if len(all) != 4 {
				t.Errorf("ListExperiments(0) returned %d, want 4", len(all))
			}

			rows, err := s.LoadTrainingRows(ctx)
			if err != nil {
				t.Fatalf("LoadTrainingRows() error = %v", err)
			}
			if len(rows) != 3 {
				t.Fatalf("LoadTrainingRows() returned %d rows, want 3 (zero truth excluded)", len(rows))
			}
			for i, want := range []float64{2.1, 3.4, 1.2} {
				if rows[i].GroundTruth != want {
					t.Errorf("row %d GroundTruth = %v, want %v", i, rows[i].GroundTruth, want)
				}
			}
		})
	}
}

func batchIDs(exps []models.Experiment) []string {
	ids := make([]string, len(exps))
	for i, e := range exps {
		ids[i] = e.BatchID
	}
	return ids
}
