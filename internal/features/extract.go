// Package features compresses a telemetry window into the fixed feature
// vector consumed by the oracle and the decision agent.
package features

import (
	"github.com/nvandessel/carbon-oracle/internal/constants"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/vecmath"
)

// Extract computes features over records. The caller passes the full history
// of the batch so far; an empty window yields the zero vector.
func Extract(records []models.TelemetryRecord) models.ExtractedFeatures {
	if len(records) == 0 {
		return models.ExtractedFeatures{}
	}

	first, last := records[0], records[len(records)-1]

	var slope float64
	if len(records) > 1 {
		dt := float64(last.TimeMin - first.TimeMin)
		slope = (last.PH - first.PH) / (dt + constants.SlopeEpsilon)
	}

	temps := make([]float64, len(records))
	peak := records[0].ColorIndex
	for i, r := range records {
		temps[i] = r.Temperature
		if r.ColorIndex > peak {
			peak = r.ColorIndex
		}
	}
	mean, std := vecmath.MeanStd(temps)

	return models.ExtractedFeatures{
		PHFinal:    last.PH,
		PHSlope:    slope,
		TempMean:   mean,
		TempStd:    std,
		ColorPeak:  peak,
		WeightLoss: last.WeightChange,
	}
}
