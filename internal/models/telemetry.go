package models

// TelemetryRecord is one timestamped observation of a batch.
// Records are values: once emitted they are never modified.
type TelemetryRecord struct {
	// TimeMin is the batch minute the record was taken at, strictly increasing per batch.
	TimeMin int `json:"time_min" yaml:"time_min"`

	// PH is the solution pH (0-14).
	PH float64 `json:"ph" yaml:"ph"`

	// Conductivity in mS/cm (>= 0).
	Conductivity float64 `json:"conductivity" yaml:"conductivity"`

	// Temperature in degrees Celsius.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// ColorIndex is the carbonization proxy (0-1).
	ColorIndex float64 `json:"color_index" yaml:"color_index"`

	// WeightChange is the cumulative weight change in grams.
	WeightChange float64 `json:"weight_change" yaml:"weight_change"`
}

// FeatureCount is the length of ExtractedFeatures.Vector.
const FeatureCount = 6

// FeatureNames lists the feature vector columns in Vector order.
var FeatureNames = [FeatureCount]string{
	"ph_final",
	"ph_slope",
	"temp_mean",
	"temp_std",
	"color_peak",
	"weight_loss",
}

// ExtractedFeatures is the fixed feature vector computed over a telemetry window.
type ExtractedFeatures struct {
	PHFinal    float64 `json:"ph_final" yaml:"ph_final"`
	PHSlope    float64 `json:"ph_slope" yaml:"ph_slope"`
	TempMean   float64 `json:"temp_mean" yaml:"temp_mean"`
	TempStd    float64 `json:"temp_std" yaml:"temp_std"`
	ColorPeak  float64 `json:"color_peak" yaml:"color_peak"`
	WeightLoss float64 `json:"weight_loss" yaml:"weight_loss"`
}

// Vector returns the features in FeatureNames order.
func (f ExtractedFeatures) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{f.PHFinal, f.PHSlope, f.TempMean, f.TempStd, f.ColorPeak, f.WeightLoss}
}
