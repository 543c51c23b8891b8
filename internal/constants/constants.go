// Package constants provides named constants used throughout the carbon-oracle codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Decision agent thresholds
const (
	// DefaultWarmupMinutes is the grace period during which the agent never intervenes.
	DefaultWarmupMinutes = 60

	// DefaultMinCapacity is the capacity (mmol/g) below which a falling trend stops the batch.
	DefaultMinCapacity = 1.5

	// DefaultTargetCapacity is the capacity (mmol/g) at which the batch is considered done.
	DefaultTargetCapacity = 3.0

	// DefaultConfidenceFloor is the minimum oracle confidence the agent will act on.
	DefaultConfidenceFloor = 0.6

	// DefaultSafetyTemperature is the mean temperature (C) above which the agent
	// asks for cooling.
	DefaultSafetyTemperature = 850.0

	// DefaultSafeTargetTemperature is the target temperature (C) the safety rule requests.
	DefaultSafeTargetTemperature = 800.0

	// TrendWindow is the number of consecutive predictions inspected for a falling trend.
	TrendWindow = 3
)

// Control loop cadence
const (
	// DefaultPredictionIntervalMin is the number of ticks between oracle calls.
	DefaultPredictionIntervalMin = 5

	// DefaultExperimentDurationMin is the simulated batch length in minutes.
	DefaultExperimentDurationMin = 180
)

// Feature extraction
const (
	// SlopeEpsilon keeps the pH slope finite when the window spans zero minutes.
	SlopeEpsilon = 1e-6
)

// Capacity model
const (
	// IdealTemperature is the activation temperature (C) that maximises capacity.
	IdealTemperature = 800.0

	// IdealTemperatureWidth is the Gaussian width (C) of the temperature contribution.
	IdealTemperatureWidth = 50.0

	// IdealPH is the final pH that maximises capacity.
	IdealPH = 8.0

	// IdealPHWidth is the Gaussian width of the pH contribution.
	IdealPHWidth = 1.5

	// MinGroundTruth is the floor applied to a finalized capacity.
	MinGroundTruth = 0.1
)

// Oracle training
const (
	// DefaultEnsembleSize is the number of bagged members in the oracle ensemble.
	DefaultEnsembleSize = 25

	// DefaultSyntheticBatches is the number of simulated batches used to bootstrap the oracle.
	DefaultSyntheticBatches = 50

	// DefaultMinHistoryRows is the minimum stored experiments needed to train on history.
	DefaultMinHistoryRows = 5

	// DefaultAugmentBelowRows is the history size below which synthetic batches are mixed in.
	DefaultAugmentBelowRows = 20

	// DefaultAugmentBatches is the number of synthetic batches mixed into a small history.
	DefaultAugmentBatches = 20

	// DefaultRidgeLambda is the L2 penalty of each ensemble member.
	DefaultRidgeLambda = 0.1
)

// Similar-case lookup
const (
	// DefaultSimilarCases is how many past experiments a report cites.
	DefaultSimilarCases = 3
)
