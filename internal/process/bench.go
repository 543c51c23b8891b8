package process

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/models"
)

// Bench hands out simulated batches with sequential ids (BATCH_001, ...).
// All batches share the bench's random source, so a seeded bench replays
// the same sequence of batches.
type Bench struct {
	rng       *rand.Rand
	log       *slog.Logger
	duration  int
	batchType models.BatchType
	count     int
}

// BenchOption configures a Bench.
type BenchOption func(*Bench)

// WithBenchDuration sets the length of every batch in minutes.
func WithBenchDuration(minutes int) BenchOption {
	return func(b *Bench) { b.duration = minutes }
}

// WithBenchBatchType forces every batch to one variant.
func WithBenchBatchType(bt models.BatchType) BenchOption {
	return func(b *Bench) { b.batchType = bt }
}

// WithBenchLogger sets the logger passed to each batch.
func WithBenchLogger(l *slog.Logger) BenchOption {
	return func(b *Bench) { b.log = l }
}

// WithBenchOffset numbers the first batch offset+1, continuing a sequence
// started by earlier runs.
func WithBenchOffset(offset int) BenchOption {
	return func(b *Bench) {
		if offset > 0 {
			b.count = offset
		}
	}
}

// NewBench creates a bench drawing from rng. A nil rng is seeded randomly.
func NewBench(rng *rand.Rand, opts ...BenchOption) *Bench {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	b := &Bench{
		rng:      rng,
		log:      slog.Default(),
		duration: constants.DefaultExperimentDurationMin,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSeededBench creates a bench with a deterministic random source.
func NewSeededBench(seed uint64, opts ...BenchOption) *Bench {
	return NewBench(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), opts...)
}

// NewBatch starts the next batch.
func (b *Bench) NewBatch() *Model {
	b.count++
	id := fmt.Sprintf("BATCH_%03d", b.count)

	opts := []ModelOption{
		WithRand(b.rng),
		WithDuration(b.duration),
		WithLogger(b.log),
	}
	if b.batchType != "" {
		opts = append(opts, WithBatchType(b.batchType))
	}
	return NewModel(id, opts...)
}

// Count returns how many batches the bench has started.
func (b *Bench) Count() int { return b.count }

// Run steps m to completion and returns its telemetry and ground truth.
func Run(m *Model) ([]models.TelemetryRecord, float64) {
	records := make([]models.TelemetryRecord, 0, m.Duration()+1)
	for {
		rec, ok := m.Step()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, m.Finalize()
}
