// Package process simulates an activated-carbon batch minute by minute.
//
// A Model evolves pH, conductivity, temperature, color and weight from a
// per-variant parameter table and accepts heater commands that change its
// future trajectory. Emitted telemetry is never rewritten.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/models"
)

// ErrUnsupportedCommand is returned by Actuate for commands the model ignores.
var ErrUnsupportedCommand = errors.New("unsupported command")

// Model is one simulated batch. It is not safe for concurrent use.
type Model struct {
	id        string
	batchType models.BatchType
	p         params
	rng       *rand.Rand
	log       *slog.Logger
	duration  int

	currentMin int
	ph         float64
	cond       float64
	temp       float64
	color      float64
	weight     float64

	targetTemp float64

	tempHistory  []float64
	phHistory    []float64
	colorHistory []float64

	sealed      bool
	groundTruth float64
}

// ModelOption configures a Model.
type ModelOption func(*modelOptions)

type modelOptions struct {
	rng       *rand.Rand
	duration  int
	batchType models.BatchType
	logger    *slog.Logger
}

// WithRand sets the random source. Use a seeded source for reproducible runs.
func WithRand(rng *rand.Rand) ModelOption {
	return func(o *modelOptions) { o.rng = rng }
}

// WithDuration sets the batch length in minutes.
func WithDuration(minutes int) ModelOption {
	return func(o *modelOptions) { o.duration = minutes }
}

// WithBatchType forces a variant instead of drawing one.
func WithBatchType(bt models.BatchType) ModelOption {
	return func(o *modelOptions) { o.batchType = bt }
}

// WithLogger sets the logger for actuation diagnostics.
func WithLogger(l *slog.Logger) ModelOption {
	return func(o *modelOptions) { o.logger = l }
}

// NewModel starts a batch with the given id.
func NewModel(id string, opts ...ModelOption) *Model {
	o := modelOptions{duration: constants.DefaultExperimentDurationMin}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	bt := o.batchType
	if !bt.Valid() {
		bt = chooseBatchType(o.rng)
	}
	p := drawParams(bt, o.rng)

	return &Model{
		id:         id,
		batchType:  bt,
		p:          p,
		rng:        o.rng,
		log:        o.logger.With("batch", id),
		duration:   o.duration,
		ph:         p.startPH,
		cond:       1.0,
		temp:       25.0,
		targetTemp: p.targetTemp,
	}
}

// BatchID returns the batch identifier.
func (m *Model) BatchID() string { return m.id }

// BatchType returns the variant driving this batch.
func (m *Model) BatchType() models.BatchType { return m.batchType }

// CurrentMinute returns the minute the next Step will report.
func (m *Model) CurrentMinute() int { return m.currentMin }

// Duration returns the configured batch length in minutes.
func (m *Model) Duration() int { return m.duration }

// TargetTemperature returns the current heater target.
func (m *Model) TargetTemperature() float64 { return m.targetTemp }

// Step advances the batch by one minute. It returns false once the batch
// has run past its duration or has been finalized.
func (m *Model) Step() (models.TelemetryRecord, bool) {
	if m.sealed || m.currentMin > m.duration {
		return models.TelemetryRecord{}, false
	}

	chaos := m.p.chaos

	m.ph = clamp(m.ph-0.05*m.p.phDecay+m.gauss(0.05*chaos), 7, 14)

	target := m.targetTemp
	if m.p.heaterFailAfter > 0 && m.currentMin > m.p.heaterFailAfter {
		target = m.p.heaterFailTarget
	}
	if m.temp < target {
		m.temp += 10 + m.gauss(2*chaos)
	} else {
		m.temp = target + m.gauss(5*chaos)
	}

	sigmoid := 1 / (1 + math.Exp(-float64(m.currentMin-30)/10))
	m.cond = math.Max(0, 1+29*sigmoid+m.gauss(0.5))

	tempFactor := m.temp / constants.IdealTemperature
	m.color = clamp(m.color+0.006*tempFactor+m.gauss(0.01), 0, 1)

	dw := -0.003 * tempFactor
	if m.currentMin%20 == 0 {
		dw += 0.01
	}
	m.weight = clamp(m.weight+dw+m.gauss(0.001), -0.5, 0.2)

	m.tempHistory = append(m.tempHistory, m.temp)
	m.phHistory = append(m.phHistory, m.ph)
	m.colorHistory = append(m.colorHistory, m.color)

	rec := models.TelemetryRecord{
		TimeMin:      m.currentMin,
		PH:           round(m.ph, 2),
		Conductivity: round(m.cond, 2),
		Temperature:  round(m.temp, 1),
		ColorIndex:   round(m.color, 3),
		WeightChange: round(m.weight, 4),
	}
	m.currentMin++
	return rec, true
}

// AdjustTargetTemperature changes the heater target from the next Step on.
func (m *Model) AdjustTargetTemperature(celsius float64) {
	m.log.Info("adjusting heater target", "from", round(m.targetTemp, 1), "to", celsius)
	m.targetTemp = celsius
}

// Actuate applies a structured command. Unknown kinds and non-finite values
// leave the batch untouched and return an error wrapping ErrUnsupportedCommand.
func (m *Model) Actuate(adj models.Adjustment) error {
	switch adj.Kind {
	case models.AdjustSetTemperature:
		if math.IsNaN(adj.Value) || math.IsInf(adj.Value, 0) {
			m.log.Warn("ignoring non-finite heater target", "value", adj.Value)
			return fmt.Errorf("%w: %s", ErrUnsupportedCommand, adj)
		}
		m.AdjustTargetTemperature(adj.Value)
		return nil
	default:
		m.log.Warn("ignoring unsupported command", "kind", adj.Kind)
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, adj.Kind)
	}
}

// ApplyCommand parses a wire command such as "set_temp:750" and applies it.
// Malformed or unsupported commands are logged and ignored.
func (m *Model) ApplyCommand(cmd string) {
	adj, err := models.ParseAdjustment(cmd)
	if err != nil {
		m.log.Warn("ignoring malformed command", "command", cmd, "error", err)
		return
	}
	_ = m.Actuate(adj)
}

// Finalize computes the measured capacity of the batch in mmol/g. The value
// is drawn once and cached; after Finalize the model emits no more telemetry.
func (m *Model) Finalize() float64 {
	if m.sealed {
		return m.groundTruth
	}
	m.sealed = true

	if len(m.tempHistory) == 0 {
		return 0
	}

	var sum float64
	for _, t := range m.tempHistory {
		sum += t
	}
	tempMean := sum / float64(len(m.tempHistory))
	phFinal := m.phHistory[len(m.phHistory)-1]
	colorPeak := m.colorHistory[0]
	for _, c := range m.colorHistory {
		colorPeak = math.Max(colorPeak, c)
	}

	score := 2.0 * gaussianBell(tempMean, constants.IdealTemperature, constants.IdealTemperatureWidth)
	score += 1.0 * gaussianBell(phFinal, constants.IdealPH, constants.IdealPHWidth)
	score += 0.5 * colorPeak

	capacity := score + m.p.bias + m.gauss(0.1)
	m.groundTruth = math.Max(constants.MinGroundTruth, round(capacity, 2))
	return m.groundTruth
}

func (m *Model) gauss(std float64) float64 {
	return m.rng.NormFloat64() * std
}

func gaussianBell(x, mu, sigma float64) float64 {
	d := x - mu
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
