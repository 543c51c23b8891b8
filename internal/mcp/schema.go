package mcp

import (
	"time"

	"github.com/nvandessel/carbon-oracle/internal/lab"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/oracle"
)

// Tool names.
const (
	ToolRunBatch = "carbon_run_batch"
	ToolHistory  = "carbon_history"
	ToolSimilar  = "carbon_similar"
)

// Limits on tool inputs.
const (
	MaxBatchesPerCall   = 10
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
	DefaultSimilarK     = 3
	MaxSimilarK         = 20
)

// CarbonRunBatchInput defines the input for the carbon_run_batch tool.
type CarbonRunBatchInput struct {
	BatchType string `json:"batch_type,omitempty" jsonschema:"Force every batch to one variant: optimal, normal, under_active, over_active or abnormal"`
	Count     int    `json:"count,omitempty" jsonschema:"Number of batches to run in sequence (1-10, default: 1)"`
	Seed      uint64 `json:"seed,omitempty" jsonschema:"Seed for a reproducible batch sequence (default: configured or random)"`
}

// CarbonRunBatchOutput defines the output for the carbon_run_batch tool.
type CarbonRunBatchOutput struct {
	Oracle  *oracle.TrainReport `json:"oracle,omitempty" jsonschema:"How the oracle was trained for this run"`
	Batches []lab.Summary       `json:"batches" jsonschema:"One summary per finished batch"`
	Message string              `json:"message" jsonschema:"Human-readable result message"`
}

// CarbonHistoryInput defines the input for the carbon_history tool.
type CarbonHistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of experiments to return, newest first (default: 20, max: 200)"`
}

// CarbonHistoryOutput defines the output for the carbon_history tool.
type CarbonHistoryOutput struct {
	Experiments []ExperimentItem `json:"experiments" jsonschema:"Stored experiments, newest first"`
	Count       int              `json:"count" jsonschema:"Number of experiments returned"`
	Total       int              `json:"total" jsonschema:"Number of experiments stored"`
}

// ExperimentItem is the list view of a stored experiment.
type ExperimentItem struct {
	ID                string                   `json:"id"`
	BatchID           string                   `json:"batch_id"`
	BatchType         string                   `json:"batch_type,omitempty"`
	Timestamp         time.Time                `json:"timestamp"`
	Outcome           string                   `json:"outcome,omitempty"`
	StopReason        string                   `json:"stop_reason,omitempty"`
	DurationMin       int                      `json:"duration_min"`
	PredictedCapacity float64                  `json:"pred_capacity"`
	GroundTruth       float64                  `json:"ground_truth"`
	Quality           string                   `json:"quality"`
	Features          models.ExtractedFeatures `json:"features"`
}

// CarbonSimilarInput defines the input for the carbon_similar tool.
type CarbonSimilarInput struct {
	ExperimentID string `json:"experiment_id,omitempty" jsonschema:"Stored experiment to compare against"`
	BatchID      string `json:"batch_id,omitempty" jsonschema:"Batch id (e.g. BATCH_007) to compare against; the newest match is used"`
	K            int    `json:"k,omitempty" jsonschema:"Number of similar batches to return (default: 3, max: 20)"`
	Metric       string `json:"metric,omitempty" jsonschema:"Similarity metric: euclidean or cosine (default: from config)"`
}

// CarbonSimilarOutput defines the output for the carbon_similar tool.
type CarbonSimilarOutput struct {
	Query   ExperimentItem `json:"query" jsonschema:"The experiment being compared"`
	Matches []SimilarItem  `json:"matches" jsonschema:"Closest past batches by standardized feature distance"`
}

// SimilarItem is a past experiment with its similarity score.
type SimilarItem struct {
	Experiment ExperimentItem `json:"experiment"`
	Similarity float64        `json:"similarity"`
}
