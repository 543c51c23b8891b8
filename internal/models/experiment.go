package models

import (
	"time"
)

// BatchType is the simulated batch variant.
type BatchType string

const (
	BatchOptimal     BatchType = "optimal"
	BatchNormal      BatchType = "normal"
	BatchUnderActive BatchType = "under_active"
	BatchOverActive  BatchType = "over_active"
	BatchAbnormal    BatchType = "abnormal"
)

// BatchTypes lists all variants in declaration order.
var BatchTypes = []BatchType{BatchOptimal, BatchNormal, BatchUnderActive, BatchOverActive, BatchAbnormal}

// Valid reports whether t is a known variant.
func (t BatchType) Valid() bool {
	for _, bt := range BatchTypes {
		if t == bt {
			return true
		}
	}
	return false
}

// Outcome describes how a batch run ended.
type Outcome string

const (
	OutcomeTargetReached Outcome = "target_reached" // Agent stopped on success
	OutcomeCutLosses     Outcome = "cut_losses"     // Agent stopped on a falling low capacity
	OutcomeCompleted     Outcome = "completed"      // Ran to the configured duration
	OutcomeCancelled     Outcome = "cancelled"      // External stop request
)

// Experiment is the persisted summary of one finished batch.
type Experiment struct {
	ID                string            `json:"id"`
	BatchID           string            `json:"batch_id"`
	BatchType         BatchType         `json:"batch_type,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Features          ExtractedFeatures `json:"features"`
	GroundTruth       float64           `json:"ground_truth"`
	PredictedCapacity float64           `json:"pred_capacity"`
	Outcome           Outcome           `json:"outcome,omitempty"`
	StopReason        string            `json:"stop_reason,omitempty"`
	DurationMin       int               `json:"duration_min"`
}

// TrainingRow pairs a feature vector with its ground truth capacity.
type TrainingRow struct {
	Features    ExtractedFeatures
	GroundTruth float64
}
