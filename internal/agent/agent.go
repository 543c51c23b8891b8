// Package agent implements the rule-based decision agent that turns capacity
// predictions and batch features into continue/warn/stop actions.
package agent

import (
	"fmt"
	"math"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/models"
)

// Config holds the agent thresholds. Build one with DefaultConfig and
// override fields; New validates it.
type Config struct {
	// WarmupMinutes is the grace period during which every decision is continue.
	WarmupMinutes int `json:"warmup_minutes" yaml:"warmup_minutes"`

	// MinCapacity is the capacity below which a falling trend stops the batch.
	MinCapacity float64 `json:"min_capacity" yaml:"min_capacity"`

	// TargetCapacity is the capacity at which the batch is stopped as a success.
	TargetCapacity float64 `json:"target_capacity" yaml:"target_capacity"`

	// ConfidenceFloor is the minimum prediction confidence the agent acts on.
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`

	// SafetyTemperature is the mean temperature above which cooling is requested.
	SafetyTemperature float64 `json:"safety_temperature" yaml:"safety_temperature"`

	// SafeTargetTemperature is the target temperature sent with a safety warning.
	SafeTargetTemperature float64 `json:"safe_target_temperature" yaml:"safe_target_temperature"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WarmupMinutes:         constants.DefaultWarmupMinutes,
		MinCapacity:           constants.DefaultMinCapacity,
		TargetCapacity:        constants.DefaultTargetCapacity,
		ConfidenceFloor:       constants.DefaultConfidenceFloor,
		SafetyTemperature:     constants.DefaultSafetyTemperature,
		SafeTargetTemperature: constants.DefaultSafeTargetTemperature,
	}
}

// Validate checks the thresholds for consistency.
func (c Config) Validate() error {
	if c.WarmupMinutes < 0 {
		return fmt.Errorf("warmup_minutes must be non-negative, got %d", c.WarmupMinutes)
	}
	if !finite(c.MinCapacity) || !finite(c.TargetCapacity) {
		return fmt.Errorf("capacity thresholds must be finite")
	}
	if c.MinCapacity >= c.TargetCapacity {
		return fmt.Errorf("min_capacity (%g) must be below target_capacity (%g)", c.MinCapacity, c.TargetCapacity)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be between 0 and 1, got %g", c.ConfidenceFloor)
	}
	if !finite(c.SafetyTemperature) || c.SafetyTemperature <= 0 {
		return fmt.Errorf("safety_temperature must be positive, got %g", c.SafetyTemperature)
	}
	if !finite(c.SafeTargetTemperature) || c.SafeTargetTemperature <= 0 {
		return fmt.Errorf("safe_target_temperature must be positive, got %g", c.SafeTargetTemperature)
	}
	return nil
}

// Agent decides what to do with a running batch. It keeps the capacity
// history of the current batch and is not safe for concurrent use.
type Agent struct {
	cfg     Config
	history []float64
}

// New creates an agent after validating cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	return &Agent{cfg: cfg}, nil
}

// Config returns the thresholds the agent was built with.
func (a *Agent) Config() Config {
	return a.cfg
}

// Decide evaluates one prediction. Rules are applied in order and the first
// match wins:
//
//  1. warmup: continue, history untouched
//  2. the capacity is appended to the trend history
//  3. low confidence: warn
//  4. mean temperature above the safety limit: warn with a cooling adjustment
//  5. three strictly falling predictions ending below MinCapacity: stop
//  6. capacity at or above TargetCapacity: stop
//  7. continue
func (a *Agent) Decide(pred models.PredictionResult, feats models.ExtractedFeatures, elapsedMin int) models.AgentDecision {
	if elapsedMin < a.cfg.WarmupMinutes {
		return models.AgentDecision{
			Action: models.ActionContinue,
			Reason: fmt.Sprintf("warmup: %d/%d min", elapsedMin, a.cfg.WarmupMinutes),
		}
	}

	a.history = append(a.history, pred.Capacity)

	if pred.Confidence < a.cfg.ConfidenceFloor {
		return models.AgentDecision{
			Action: models.ActionWarn,
			Reason: fmt.Sprintf("low confidence %.2f < %.2f; prediction not trusted", pred.Confidence, a.cfg.ConfidenceFloor),
		}
	}

	if feats.TempMean > a.cfg.SafetyTemperature {
		return models.AgentDecision{
			Action:     models.ActionWarn,
			Reason:     fmt.Sprintf("mean temperature %.1fC above %.1fC; cooling to %.0fC", feats.TempMean, a.cfg.SafetyTemperature, a.cfg.SafeTargetTemperature),
			Adjustment: models.SetTemperature(a.cfg.SafeTargetTemperature),
		}
	}

	if a.falling() && pred.Capacity < a.cfg.MinCapacity {
		return models.AgentDecision{
			Action: models.ActionStop,
			Reason: fmt.Sprintf("capacity falling to %.2f below %.2f mmol/g; cutting losses", pred.Capacity, a.cfg.MinCapacity),
		}
	}

	if pred.Capacity >= a.cfg.TargetCapacity {
		return models.AgentDecision{
			Action: models.ActionStop,
			Reason: fmt.Sprintf("target reached: %.2f >= %.2f mmol/g", pred.Capacity, a.cfg.TargetCapacity),
		}
	}

	return models.AgentDecision{
		Action: models.ActionContinue,
		Reason: "nominal",
	}
}

// falling reports whether the last TrendWindow predictions are strictly descending.
func (a *Agent) falling() bool {
	n := len(a.history)
	if n < constants.TrendWindow {
		return false
	}
	recent := a.history[n-constants.TrendWindow:]
	for i := 1; i < len(recent); i++ {
		if recent[i] >= recent[i-1] {
			return false
		}
	}
	return true
}

// Reset clears the capacity history for a new batch.
func (a *Agent) Reset() {
	a.history = nil
}

// History returns a copy of the capacity history.
func (a *Agent) History() []float64 {
	out := make([]float64, len(a.history))
	copy(out, a.history)
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
