// Package control runs one batch through the closed loop:
// plant telemetry, feature window, oracle, decision agent and actuation.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/agent"
	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/features"
	"github.com/nvandessel/carbon-oracle/internal/logging"
	"github.com/nvandessel/carbon-oracle/internal/metrics"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/oracle"
	"github.com/nvandessel/carbon-oracle/internal/store"
)

var (
	// ErrInvalidPrediction is reported when the oracle returns non-finite values.
	ErrInvalidPrediction = errors.New("oracle returned a non-finite prediction")
	// ErrOraclePanic is reported when the oracle panics during a prediction.
	ErrOraclePanic = errors.New("oracle panicked")
)

// Config is the validated loop configuration.
type Config struct {
	// PredictionInterval is the number of ticks between oracle calls.
	PredictionInterval int

	// OracleTimeout bounds one oracle call. Zero means no timeout.
	OracleTimeout time.Duration

	// Agent holds the decision thresholds; a new agent is built per batch.
	Agent agent.Config
}

// DefaultConfig returns the standard cadence and thresholds.
func DefaultConfig() Config {
	return Config{
		PredictionInterval: constants.DefaultPredictionIntervalMin,
		OracleTimeout:      2 * time.Second,
		Agent:              agent.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PredictionInterval < 1 {
		return fmt.Errorf("prediction interval must be at least 1, got %d", c.PredictionInterval)
	}
	if c.OracleTimeout < 0 {
		return fmt.Errorf("oracle timeout must be non-negative, got %v", c.OracleTimeout)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

// Tick is the record of one prediction tick.
type Tick struct {
	Index       int                      `json:"tick"`
	Record      models.TelemetryRecord   `json:"record"`
	Features    models.ExtractedFeatures `json:"features"`
	Prediction  models.PredictionResult  `json:"prediction"`
	OracleError string                   `json:"oracle_error,omitempty"`
	Decision    models.AgentDecision     `json:"decision"`
	ActuationOK bool                     `json:"actuation_ok,omitempty"`
}

// Result is the read-only bundle handed to reporting once a batch ends.
type Result struct {
	BatchID         string                   `json:"batch_id"`
	BatchType       models.BatchType         `json:"batch_type,omitempty"`
	History         []models.TelemetryRecord `json:"history"`
	Ticks           []Tick                   `json:"ticks"`
	FinalFeatures   models.ExtractedFeatures `json:"final_features"`
	FinalPrediction models.PredictionResult  `json:"final_prediction"`
	GroundTruth     float64                  `json:"ground_truth"`
	Outcome         models.Outcome           `json:"outcome"`
	StopReason      string                   `json:"stop_reason,omitempty"`
	Actuations      int                      `json:"actuations"`
	Overrides       int                      `json:"overrides,omitempty"`
	ExperimentID    string                   `json:"experiment_id,omitempty"`

	// PersistErr is set when the experiment could not be stored.
	PersistErr error `json:"-"`
}

// DurationMin returns the minute of the last record, or 0 without history.
func (r *Result) DurationMin() int {
	if len(r.History) == 0 {
		return 0
	}
	return r.History[len(r.History)-1].TimeMin
}

// Experiment converts the result into the persisted summary.
func (r *Result) Experiment() models.Experiment {
	return models.Experiment{
		BatchID:           r.BatchID,
		BatchType:         r.BatchType,
		Features:          r.FinalFeatures,
		GroundTruth:       r.GroundTruth,
		PredictedCapacity: r.FinalPrediction.Capacity,
		Outcome:           r.Outcome,
		StopReason:        r.StopReason,
		DurationMin:       r.DurationMin(),
	}
}

// Option configures a Loop.
type Option func(*Loop)

// WithStore persists every finished batch.
func WithStore(s store.ExperimentStore) Option {
	return func(l *Loop) { l.store = s }
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// WithDecisionLogger traces every prediction tick to JSONL.
func WithDecisionLogger(dl *logging.DecisionLogger) Option {
	return func(l *Loop) { l.decisions = dl }
}

// WithMetrics records loop instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithObserver is called after every prediction tick, before a stop takes effect.
func WithObserver(fn func(Tick)) Option {
	return func(l *Loop) { l.observer = fn }
}

// WithOverrides schedules operator commands for every batch.
func WithOverrides(ovs []Override) Option {
	return func(l *Loop) {
		l.overrides = make(map[int][]string, len(ovs))
		for _, o := range ovs {
			l.overrides[o.Minute] = append(l.overrides[o.Minute], o.Command)
		}
	}
}

// Loop drives batches through the closed loop. Runs are serialized; every
// Run starts a new plant and resets the agent.
type Loop struct {
	cfg       Config
	plants    PlantFactory
	oracle    oracle.Oracle
	store     store.ExperimentStore
	log       *slog.Logger
	decisions *logging.DecisionLogger
	metrics   *metrics.Metrics
	observer  func(Tick)
	overrides map[int][]string

	runMu sync.Mutex
	agent *agent.Agent
}

// NewLoop validates cfg and wires the collaborators.
func NewLoop(cfg Config, plants PlantFactory, o oracle.Oracle, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	if plants == nil {
		return nil, fmt.Errorf("plant factory is required")
	}
	if o == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	ag, err := agent.New(cfg.Agent)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		cfg:    cfg,
		plants: plants,
		oracle: o,
		log:    slog.Default(),
		agent:  ag,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run simulates one batch until the agent stops it or the plant runs out.
//
// Cancellation is checked before every step. A cancelled run returns the
// partial result with outcome "cancelled" together with an error wrapping
// ctx.Err(); it is neither finalized nor persisted. Overrides for a minute
// reach the plant right after that minute's record is read.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	plant := l.plants()
	if plant == nil {
		return nil, fmt.Errorf("plant factory returned nil")
	}
	l.agent.Reset()

	res := &Result{BatchID: plant.BatchID()}
	if bt, ok := plant.(batchTyper); ok {
		res.BatchType = bt.BatchType()
	}
	log := l.log.With("batch", res.BatchID)
	log.Info("starting batch", "type", res.BatchType, "interval", l.cfg.PredictionInterval)

	var history []models.TelemetryRecord
	stopped := false

	for tick := 0; ; tick++ {
		if err := ctx.Err(); err != nil {
			res.History = append([]models.TelemetryRecord(nil), history...)
			res.Outcome = models.OutcomeCancelled
			res.StopReason = "cancelled"
			log.Warn("batch cancelled", "tick", tick)
			l.metrics.BatchFinished(string(res.Outcome), 0)
			return res, fmt.Errorf("batch %s cancelled at tick %d: %w", res.BatchID, tick, err)
		}

		rec, ok := plant.Step()
		if !ok {
			break
		}
		history = append(history, rec)
		l.metrics.Tick()

		for _, cmd := range l.overrides[rec.TimeMin] {
			if l.applyOverride(log, plant, rec.TimeMin, cmd) {
				res.Overrides++
			}
		}

		if tick%l.cfg.PredictionInterval != 0 {
			continue
		}

		t := l.evaluate(ctx, log, plant, tick, rec, history)
		res.Ticks = append(res.Ticks, t)
		if t.Decision.Adjustment != nil && t.ActuationOK {
			res.Actuations++
		}
		if l.observer != nil {
			l.observer(t)
		}

		if t.Decision.Action == models.ActionStop {
			stopped = true
			res.StopReason = t.Decision.Reason
			if t.Prediction.Capacity >= l.cfg.Agent.TargetCapacity {
				res.Outcome = models.OutcomeTargetReached
			} else {
				res.Outcome = models.OutcomeCutLosses
			}
			log.Info("agent stopped batch", "time_min", rec.TimeMin, "reason", t.Decision.Reason)
			break
		}
	}

	if !stopped {
		res.Outcome = models.OutcomeCompleted
		log.Info("batch ran to completion", "records", len(history))
	}

	res.History = append([]models.TelemetryRecord(nil), history...)
	res.GroundTruth = plant.Finalize()
	res.FinalFeatures = features.Extract(history)
	res.FinalPrediction, _ = l.predict(ctx, res.FinalFeatures)

	l.metrics.BatchFinished(string(res.Outcome), res.GroundTruth)
	l.decisions.Log(map[string]any{
		"event":          "batch_finished",
		"batch_id":       res.BatchID,
		"outcome":        res.Outcome,
		"ground_truth":   res.GroundTruth,
		"pred_capacity":  res.FinalPrediction.Capacity,
		"actuations":     res.Actuations,
		"duration_min":   res.DurationMin(),
		"prediction_cnt": len(res.Ticks),
		"capacity_trend": l.agent.History(),
	})

	if l.store != nil && len(history) > 0 {
		id, err := l.store.SaveExperiment(ctx, res.Experiment())
		if err != nil {
			res.PersistErr = err
			l.metrics.PersistError()
			log.Warn("failed to persist experiment", "error", err)
		} else {
			res.ExperimentID = id
			log.Debug("experiment persisted", "id", id)
		}
	}

	log.Info("batch finished",
		"outcome", res.Outcome,
		"ground_truth", res.GroundTruth,
		"pred_capacity", round2(res.FinalPrediction.Capacity))
	return res, nil
}

// applyOverride hands an operator command to the plant. It reports false
// when the plant does not take wire-form commands.
func (l *Loop) applyOverride(log *slog.Logger, plant Plant, minute int, cmd string) bool {
	c, ok := plant.(commander)
	if !ok {
		log.Warn("plant does not accept operator commands", "time_min", minute, "command", cmd)
		return false
	}
	log.Info("operator command", "time_min", minute, "command", cmd)
	c.ApplyCommand(cmd)
	l.decisions.Log(map[string]any{
		"event":    "operator_command",
		"batch_id": plant.BatchID(),
		"time_min": minute,
		"command":  cmd,
	})
	return true
}

// evaluate runs one prediction tick: features, oracle, agent, actuation.
func (l *Loop) evaluate(ctx context.Context, log *slog.Logger, plant Plant, tick int, rec models.TelemetryRecord, history []models.TelemetryRecord) Tick {
	t := Tick{Index: tick, Record: rec}
	t.Features = features.Extract(history)

	pred, err := l.predict(ctx, t.Features)
	if err != nil {
		t.OracleError = err.Error()
		log.Warn("oracle unavailable, degrading to zero confidence", "time_min", rec.TimeMin, "error", err)
	}
	t.Prediction = pred

	t.Decision = l.agent.Decide(pred, t.Features, rec.TimeMin)
	l.metrics.Decision(string(t.Decision.Action))

	var adjustment string
	if adj := t.Decision.Adjustment; adj != nil {
		adjustment = adj.String()
		if err := plant.Actuate(*adj); err != nil {
			log.Warn("actuation rejected", "command", adjustment, "error", err)
			l.metrics.Actuation(string(adj.Kind), false)
		} else {
			t.ActuationOK = true
			log.Warn("control intervention", "command", adjustment, "reason", t.Decision.Reason)
			l.metrics.Actuation(string(adj.Kind), true)
		}
	}

	log.Debug("prediction tick",
		"time_min", rec.TimeMin,
		"ph", rec.PH,
		"temp", rec.Temperature,
		"capacity", round2(pred.Capacity),
		"confidence", round2(pred.Confidence),
		"action", t.Decision.Action)

	recCopy := rec
	l.decisions.LogDecision(logging.DecisionEvent{
		BatchID:     plant.BatchID(),
		Tick:        tick,
		TimeMin:     rec.TimeMin,
		Features:    t.Features,
		Prediction:  pred,
		OracleError: t.OracleError,
		Action:      t.Decision.Action,
		Reason:      t.Decision.Reason,
		Adjustment:  adjustment,
		Record:      &recCopy,
	})

	return t
}

type prediction struct {
	res models.PredictionResult
	err error
}

// predict calls the oracle under the configured timeout. Any failure,
// including a timeout or a non-finite answer, yields the zero prediction.
func (l *Loop) predict(ctx context.Context, feats models.ExtractedFeatures) (models.PredictionResult, error) {
	octx := ctx
	if l.cfg.OracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, l.cfg.OracleTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan prediction, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- prediction{err: fmt.Errorf("%w: %v", ErrOraclePanic, r)}
			}
		}()
		res, err := l.oracle.Predict(octx, feats)
		done <- prediction{res, err}
	}()

	var p prediction
	select {
	case p = <-done:
	case <-octx.Done():
		p.err = octx.Err()
	}

	if p.err == nil && (!finite(p.res.Capacity) || !finite(p.res.Confidence)) {
		p.err = ErrInvalidPrediction
	}
	if p.err != nil {
		p.res = models.PredictionResult{}
	} else {
		p.res.Confidence = math.Min(1, math.Max(0, p.res.Confidence))
	}

	l.metrics.Prediction(time.Since(start), p.res.Capacity, p.res.Confidence, p.err != nil)
	return p.res, p.err
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
