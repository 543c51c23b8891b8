package features

import (
	"math"
	"testing"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestExtract_Empty(t *testing.T) {
	got := Extract(nil)
	if got != (models.ExtractedFeatures{}) {
		t.Errorf("Extract(nil) = %+v, want zero", got)
	}
}

func TestExtract_SingleRecord(t *testing.T) {
	rec := models.TelemetryRecord{TimeMin: 0, PH: 13.2, Temperature: 25, ColorIndex: 0.1, WeightChange: -0.002}
	got := Extract([]models.TelemetryRecord{rec})

	if got.PHSlope != 0 {
		t.Errorf("PHSlope = %v, want 0", got.PHSlope)
	}
	if got.TempStd != 0 {
		t.Errorf("TempStd = %v, want 0", got.TempStd)
	}
	if got.PHFinal != 13.2 || got.TempMean != 25 || got.ColorPeak != 0.1 || got.WeightLoss != -0.002 {
		t.Errorf("unexpected features %+v", got)
	}
}

func TestExtract_Window(t *testing.T) {
	records := []models.TelemetryRecord{
		{TimeMin: 0, PH: 14, Temperature: 100, ColorIndex: 0.1, WeightChange: 0},
		{TimeMin: 1, PH: 13, Temperature: 200, ColorIndex: 0.5, WeightChange: -0.01},
		{TimeMin: 2, PH: 12, Temperature: 300, ColorIndex: 0.3, WeightChange: -0.02},
	}
	got := Extract(records)

	if got.PHFinal != 12 {
		t.Errorf("PHFinal = %v, want 12", got.PHFinal)
	}
	if want := -2 / (2 + 1e-6); !approx(got.PHSlope, want) {
		t.Errorf("PHSlope = %v, want %v", got.PHSlope, want)
	}
	if !approx(got.TempMean, 200) {
		t.Errorf("TempMean = %v, want 200", got.TempMean)
	}
	if want := math.Sqrt(20000.0 / 3); !approx(got.TempStd, want) {
		t.Errorf("TempStd = %v, want population std %v", got.TempStd, want)
	}
	if got.ColorPeak != 0.5 {
		t.Errorf("ColorPeak = %v, want 0.5", got.ColorPeak)
	}
	if got.WeightLoss != -0.02 {
		t.Errorf("WeightLoss = %v, want -0.02", got.WeightLoss)
	}
}

func TestExtract_DoesNotMutateInput(t *testing.T) {
	records := []models.TelemetryRecord{
		{TimeMin: 0, PH: 14, Temperature: 25},
		{TimeMin: 1, PH: 13.9, Temperature: 35},
	}
	before := append([]models.TelemetryRecord(nil), records...)
	Extract(records)
	for i := range records {
		if records[i] != before[i] {
			t.Fatalf("record %d mutated", i)
		}
	}
}
