package process

import (
	"math/rand/v2"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

// variantWeight is the cumulative selection threshold for a batch type.
type variantWeight struct {
	batchType models.BatchType
	below     float64
}

// variantWeights must stay sorted by threshold; anything above the last
// threshold is abnormal.
var variantWeights = []variantWeight{
	{models.BatchOptimal, 0.60},
	{models.BatchNormal, 0.80},
	{models.BatchUnderActive, 0.90},
	{models.BatchOverActive, 0.95},
}

// chooseBatchType draws a variant with the production weights
// (60/20/10/5/5 percent).
func chooseBatchType(rng *rand.Rand) models.BatchType {
	r := rng.Float64()
	for _, w := range variantWeights {
		if r < w.below {
			return w.batchType
		}
	}
	return models.BatchAbnormal
}

// params are the per-variant constants drawn once when a batch starts.
type params struct {
	targetTemp float64
	phDecay    float64
	startPH    float64
	chaos      float64
	bias       float64

	// heaterFailAfter is the minute after which the heater target collapses
	// to heaterFailTarget; zero disables the failure.
	heaterFailAfter  int
	heaterFailTarget float64
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// drawParams samples the parameter table for bt.
func drawParams(bt models.BatchType, rng *rand.Rand) params {
	p := params{
		targetTemp: 800,
		phDecay:    1.0,
		startPH:    uniform(rng, 13, 14),
		chaos:      1.0,
	}

	switch bt {
	case models.BatchOptimal:
		p.phDecay = 0.6
		p.startPH = 13.5
		p.chaos = 0.2
		p.bias = 0.5
	case models.BatchUnderActive:
		p.targetTemp = uniform(rng, 400, 600)
		p.phDecay = 0.5
		p.bias = -1.0
	case models.BatchOverActive:
		p.targetTemp = uniform(rng, 850, 950)
		p.phDecay = 1.5
		p.bias = -0.5
	case models.BatchAbnormal:
		if rng.IntN(2) == 0 {
			p.phDecay = 0.1
		} else {
			p.phDecay = 3.0
		}
		p.chaos = 3.0
		p.bias = -2.0
		p.heaterFailAfter = 60
		p.heaterFailTarget = 400
	default:
		p.targetTemp = uniform(rng, 750, 850)
	}

	return p
}
