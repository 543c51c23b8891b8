package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/carbon-oracle/internal/lab"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/ratelimit"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/vectorsearch"
)

const (
	recentURI           = "carbon://experiments/recent"
	experimentURIPrefix = "carbon://experiments/"
	recentResourceLimit = 10
)

// registerTools registers all carbon tools with the MCP server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name: ToolRunBatch,
		Description: "Run one or more simulated carbonization batches under oracle control. " +
			"Each batch is stopped early when the predicted capacity clears the target or keeps falling, " +
			"then stored and reported.",
	}, s.handleCarbonRunBatch)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolHistory,
		Description: "List stored experiments, newest first, with their outcome, prediction and measured capacity.",
	}, s.handleCarbonHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolSimilar,
		Description: "Find the past batches whose final features are closest to a stored experiment.",
	}, s.handleCarbonSimilar)
}

// registerResources registers the experiment resources.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         recentURI,
		Name:        "carbon-recent-experiments",
		Description: "The most recent batches with outcome and capacity.",
		MIMEType:    "text/markdown",
	}, s.handleRecentResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: experimentURIPrefix + "{id}",
		Name:        "carbon-experiment",
		Description: "Full details for one stored experiment.",
		MIMEType:    "text/markdown",
	}, s.handleExperimentResource)
}

// handleCarbonRunBatch runs batches on a fresh lab so each call trains
// against the latest history.
func (s *Server) handleCarbonRunBatch(ctx context.Context, req *sdk.CallToolRequest, args CarbonRunBatchInput) (_ *sdk.CallToolResult, _ CarbonRunBatchOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolRunBatch, start, retErr, sanitizeToolParams(map[string]any{
			"batch_type": args.BatchType, "count": args.Count, "seed": args.Seed,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ToolRunBatch); err != nil {
		return nil, CarbonRunBatchOutput{}, err
	}

	count := args.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > MaxBatchesPerCall {
		return nil, CarbonRunBatchOutput{}, fmt.Errorf("count must be between 1 and %d, got %d", MaxBatchesPerCall, args.Count)
	}
	batchType := models.BatchType(args.BatchType)
	if batchType != "" && !batchType.Valid() {
		return nil, CarbonRunBatchOutput{}, fmt.Errorf("unknown batch type %q", args.BatchType)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	l, err := lab.New(ctx, lab.Options{
		Config:    s.carbon,
		Store:     s.store,
		Seed:      args.Seed,
		BatchType: batchType,
		Analyst:   s.analyst,
		Logger:    s.log,
		Metrics:   s.metrics,
	})
	if err != nil {
		return nil, CarbonRunBatchOutput{}, err
	}

	runs, runErr := l.RunBatches(ctx, count)
	out := CarbonRunBatchOutput{
		Oracle:  l.TrainReport(),
		Batches: make([]lab.Summary, 0, len(runs)),
	}
	for _, run := range runs {
		out.Batches = append(out.Batches, run.Summary())
	}
	if runErr != nil {
		return nil, out, fmt.Errorf("batch run stopped after %d of %d batches: %w", finished(runs), count, runErr)
	}

	out.Message = fmt.Sprintf("Ran %d batch(es)", len(out.Batches))
	if len(out.Batches) > 0 {
		last := out.Batches[len(out.Batches)-1]
		out.Message += fmt.Sprintf("; last %s ended %s at minute %d with %.2f mmol/g (%s)",
			last.BatchID, last.Outcome, last.DurationMin, last.GroundTruth, last.Quality)
	}
	return nil, out, nil
}

// finished counts the runs that ran to a terminal outcome.
func finished(runs []*lab.BatchRun) int {
	n := 0
	for _, run := range runs {
		if run.Result != nil && run.Result.Outcome != models.OutcomeCancelled {
			n++
		}
	}
	return n
}

// handleCarbonHistory lists stored experiments.
func (s *Server) handleCarbonHistory(ctx context.Context, req *sdk.CallToolRequest, args CarbonHistoryInput) (_ *sdk.CallToolResult, _ CarbonHistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolHistory, start, retErr, sanitizeToolParams(map[string]any{"limit": args.Limit}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ToolHistory); err != nil {
		return nil, CarbonHistoryOutput{}, err
	}

	limit := args.Limit
	switch {
	case limit < 0:
		return nil, CarbonHistoryOutput{}, fmt.Errorf("limit must be non-negative, got %d", limit)
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	exps, err := s.store.ListExperiments(ctx, limit)
	if err != nil {
		return nil, CarbonHistoryOutput{}, fmt.Errorf("failed to list experiments: %w", err)
	}
	total, err := s.store.CountExperiments(ctx)
	if err != nil {
		return nil, CarbonHistoryOutput{}, fmt.Errorf("failed to count experiments: %w", err)
	}

	items := make([]ExperimentItem, 0, len(exps))
	for _, exp := range exps {
		items = append(items, toItem(exp))
	}
	return nil, CarbonHistoryOutput{Experiments: items, Count: len(items), Total: total}, nil
}

// handleCarbonSimilar ranks past experiments against one stored experiment.
func (s *Server) handleCarbonSimilar(ctx context.Context, req *sdk.CallToolRequest, args CarbonSimilarInput) (_ *sdk.CallToolResult, _ CarbonSimilarOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolSimilar, start, retErr, sanitizeToolParams(map[string]any{
			"experiment_id": args.ExperimentID, "batch_id": args.BatchID, "k": args.K, "metric": args.Metric,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ToolSimilar); err != nil {
		return nil, CarbonSimilarOutput{}, err
	}

	if args.ExperimentID == "" && args.BatchID == "" {
		return nil, CarbonSimilarOutput{}, fmt.Errorf("'experiment_id' or 'batch_id' is required")
	}
	k := args.K
	switch {
	case k < 0:
		return nil, CarbonSimilarOutput{}, fmt.Errorf("k must be non-negative, got %d", k)
	case k == 0:
		k = DefaultSimilarK
	case k > MaxSimilarK:
		k = MaxSimilarK
	}

	metricName := args.Metric
	if metricName == "" {
		metricName = s.carbon.Similarity.Metric
	}
	metric, err := vectorsearch.MetricByName(metricName)
	if err != nil {
		return nil, CarbonSimilarOutput{}, err
	}

	query, matches, err := lab.FindSimilar(ctx, s.store, lab.Ref{ExperimentID: args.ExperimentID, BatchID: args.BatchID}, k, metric)
	if err != nil {
		return nil, CarbonSimilarOutput{}, err
	}

	out := CarbonSimilarOutput{
		Query:   toItem(query),
		Matches: make([]SimilarItem, 0, len(matches)),
	}
	for _, m := range matches {
		out.Matches = append(out.Matches, SimilarItem{Experiment: toItem(m.Experiment), Similarity: m.Score})
	}
	return nil, out, nil
}

func toItem(exp models.Experiment) ExperimentItem {
	return ExperimentItem{
		ID:                exp.ID,
		BatchID:           exp.BatchID,
		BatchType:         string(exp.BatchType),
		Timestamp:         exp.Timestamp,
		Outcome:           string(exp.Outcome),
		StopReason:        exp.StopReason,
		DurationMin:       exp.DurationMin,
		PredictedCapacity: exp.PredictedCapacity,
		GroundTruth:       exp.GroundTruth,
		Quality:           report.QualityLabel(exp.GroundTruth),
		Features:          exp.Features,
	}
}

// handleRecentResource returns the latest experiments as a markdown table.
func (s *Server) handleRecentResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	exps, err := s.store.ListExperiments(ctx, recentResourceLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Recent Batches\n\n")
	if len(exps) == 0 {
		sb.WriteString("No batches on record yet. Run one with `carbon_run_batch`.\n")
	} else {
		sb.WriteString("| Batch | Type | Outcome | Minute | Predicted | Measured | Quality |\n")
		sb.WriteString("|---|---|---|---|---|---|---|\n")
		for _, exp := range exps {
			fmt.Fprintf(&sb, "| %s | %s | %s | %d | %.2f | %.2f | %s |\n",
				exp.BatchID, exp.BatchType, exp.Outcome, exp.DurationMin,
				exp.PredictedCapacity, exp.GroundTruth, report.QualityLabel(exp.GroundTruth))
		}
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      recentURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleExperimentResource returns one experiment.
// URI format: carbon://experiments/{id}
func (s *Server) handleExperimentResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	if !strings.HasPrefix(uri, experimentURIPrefix) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	id := strings.TrimPrefix(uri, experimentURIPrefix)
	if id == "" {
		return nil, fmt.Errorf("experiment ID is required")
	}

	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Experiment %s\n\n", exp.BatchID)
	fmt.Fprintf(&sb, "**ID:** %s\n", exp.ID)
	fmt.Fprintf(&sb, "**Type:** %s\n", exp.BatchType)
	fmt.Fprintf(&sb, "**Recorded:** %s\n", exp.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Outcome:** %s", exp.Outcome)
	if exp.StopReason != "" {
		fmt.Fprintf(&sb, " (%s)", exp.StopReason)
	}
	fmt.Fprintf(&sb, "\n**Duration:** %d min\n", exp.DurationMin)
	fmt.Fprintf(&sb, "**Capacity:** predicted %.2f mmol/g, measured %.2f mmol/g (%s)\n\n",
		exp.PredictedCapacity, exp.GroundTruth, report.QualityLabel(exp.GroundTruth))

	sb.WriteString("## Final Features\n\n")
	v := exp.Features.Vector()
	for i, name := range models.FeatureNames {
		fmt.Fprintf(&sb, "- %s: %.4f\n", name, v[i])
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}
