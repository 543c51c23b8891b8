package control

import (
	"github.com/nvandessel/carbon-oracle/internal/models"
)

// Plant is the batch under control: the simulator today, a hardware sensor
// feed tomorrow.
type Plant interface {
	BatchID() string

	// Step returns the next telemetry record, or false once the batch is exhausted.
	Step() (models.TelemetryRecord, bool)

	// Actuate applies an adjustment to future behavior. Errors are reported
	// but never abort the batch.
	Actuate(adj models.Adjustment) error

	// Finalize returns the measured capacity once the batch is over.
	Finalize() float64
}

// batchTyper is implemented by plants that know their variant.
type batchTyper interface {
	BatchType() models.BatchType
}

// commander is implemented by plants that accept wire-form operator
// commands. Malformed commands are the plant's to log and ignore.
type commander interface {
	ApplyCommand(cmd string)
}

// PlantFactory starts a fresh plant for each batch.
type PlantFactory func() Plant
