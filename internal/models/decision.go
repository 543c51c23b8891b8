package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PredictionResult is the oracle's capacity estimate for a feature vector.
type PredictionResult struct {
	// Capacity is the predicted CO2 capacity in mmol/g.
	Capacity float64 `json:"capacity" yaml:"capacity"`

	// Confidence of the prediction (0.0 - 1.0).
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Action is what the decision agent wants the control loop to do.
type Action string

const (
	ActionContinue Action = "continue" // Keep running
	ActionWarn     Action = "warn"     // Keep running, flag the batch
	ActionStop     Action = "stop"     // Terminate the batch now
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionContinue, ActionWarn, ActionStop:
		return true
	default:
		return false
	}
}

// AdjustmentKind names an actuation the process accepts.
type AdjustmentKind string

const (
	// AdjustSetTemperature sets the heater target temperature in degrees Celsius.
	AdjustSetTemperature AdjustmentKind = "set_temp"
)

// Adjustment is a structured actuation command fed back into the process.
type Adjustment struct {
	Kind  AdjustmentKind `json:"kind" yaml:"kind"`
	Value float64        `json:"value" yaml:"value"`
}

// SetTemperature builds a target temperature adjustment.
func SetTemperature(celsius float64) *Adjustment {
	return &Adjustment{Kind: AdjustSetTemperature, Value: celsius}
}

// String returns the wire form, e.g. "set_temp:800".
func (a Adjustment) String() string {
	return string(a.Kind) + ":" + strconv.FormatFloat(a.Value, 'f', -1, 64)
}

// ParseAdjustment parses the wire form produced by Adjustment.String.
func ParseAdjustment(s string) (Adjustment, error) {
	kind, raw, ok := strings.Cut(s, ":")
	kind = strings.TrimSpace(kind)
	if !ok || kind == "" {
		return Adjustment{}, fmt.Errorf("malformed command %q: expected <kind>:<value>", s)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Adjustment{}, fmt.Errorf("malformed command %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Adjustment{}, fmt.Errorf("malformed command %q: value must be finite", s)
	}

	return Adjustment{Kind: AdjustmentKind(kind), Value: v}, nil
}

// AgentDecision is the agent's verdict for one prediction tick.
type AgentDecision struct {
	Action Action `json:"action" yaml:"action"`

	// Reason is a human-readable diagnostic; its wording is not stable.
	Reason string `json:"reason" yaml:"reason"`

	// Adjustment is nil when the decision carries no actuation.
	Adjustment *Adjustment `json:"adjustment,omitempty" yaml:"adjustment,omitempty"`
}
