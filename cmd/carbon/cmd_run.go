package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/control"
	"github.com/nvandessel/carbon-oracle/internal/lab"
	"github.com/nvandessel/carbon-oracle/internal/logging"
	"github.com/nvandessel/carbon-oracle/internal/metrics"
	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/oracle"
	"github.com/nvandessel/carbon-oracle/internal/pathutil"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run simulated batches under oracle control",
		Long: `Run one or more simulated carbonization batches.

The oracle is trained once before the first batch: on stored history when
enough batches are on record, otherwise on synthetic batches. Each finished
batch is stored in .carbon/experiments.db and gets a markdown report and a
telemetry CSV under .carbon/reports/.

Examples:
  carbon run                            # One batch with default settings
  carbon run --batches 5 --seed 42      # Reproducible sequence of five
  carbon run --batch-type abnormal      # Force the failing variant
  carbon run --command 45=set_temp:750  # Operator heater change at minute 45
  carbon run --metrics-addr :9108       # Serve Prometheus metrics meanwhile`,
		RunE: runBatches,
	}

	cmd.Flags().Int("batches", 1, "Number of batches to run")
	cmd.Flags().Uint64("seed", 0, "Seed for a reproducible batch sequence (0 = configured or random)")
	cmd.Flags().String("batch-type", "", "Force a batch variant: optimal, normal, under_active, over_active, abnormal")
	cmd.Flags().Int("duration", 0, "Batch length in minutes (overrides config)")
	cmd.Flags().Int("interval", 0, "Minutes between oracle predictions (overrides config)")
	cmd.Flags().Bool("no-report", false, "Skip writing batch reports")
	cmd.Flags().Bool("quiet", false, "Print only the batch summaries")
	cmd.Flags().StringArray("command", nil, "Operator command as MINUTE=COMMAND, e.g. 45=set_temp:750 (repeatable)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9108 (overrides config)")

	return cmd
}

// runOutput is the --json document of the run command.
type runOutput struct {
	Oracle  *oracle.TrainReport `json:"oracle,omitempty"`
	Batches []lab.Summary       `json:"batches"`
	Error   string              `json:"error,omitempty"`
}

func runBatches(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("root")
	jsonOut, _ := cmd.Flags().GetBool("json")
	n, _ := cmd.Flags().GetInt("batches")
	seed, _ := cmd.Flags().GetUint64("seed")
	batchType, _ := cmd.Flags().GetString("batch-type")
	duration, _ := cmd.Flags().GetInt("duration")
	interval, _ := cmd.Flags().GetInt("interval")
	noReport, _ := cmd.Flags().GetBool("no-report")
	quiet, _ := cmd.Flags().GetBool("quiet")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	commands, _ := cmd.Flags().GetStringArray("command")

	if n < 1 {
		return fmt.Errorf("--batches must be at least 1, got %d", n)
	}
	overrides := make([]control.Override, 0, len(commands))
	for _, c := range commands {
		o, err := control.ParseOverride(c)
		if err != nil {
			return err
		}
		overrides = append(overrides, o)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if duration > 0 {
		cfg.Loop.ExperimentDurationMin = duration
	}
	if interval > 0 {
		cfg.Loop.PredictionIntervalMin = interval
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	logger := newLogger(cmd, cfg)

	carbonDir, err := store.EnsureCarbonDir(root)
	if err != nil {
		return err
	}
	expStore, err := store.NewSQLiteStore(root)
	if err != nil {
		return fmt.Errorf("failed to open experiment store: %w", err)
	}
	defer expStore.Close()

	decisions := logging.NewDecisionLogger(carbonDir, cfg.Logging.Level)
	defer decisions.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.NewMetrics(nil)
		stop, err := serveMetrics(ctx, cfg.Metrics.Addr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	opts := lab.Options{
		Config:    cfg,
		Store:     expStore,
		Seed:      seed,
		BatchType: models.BatchType(batchType),
		Logger:    logger,
		Metrics:   m,
		Decisions: decisions,
		Overrides: overrides,
	}
	if !noReport {
		opts.Analyst = newAnalyst(cfg, carbonDir, logger)
	}
	out := cmd.OutOrStdout()
	if !jsonOut && !quiet {
		opts.Observer = func(t control.Tick) { printTick(out, t) }
	}

	l, err := lab.New(ctx, opts)
	if err != nil {
		return err
	}

	if !jsonOut {
		fmt.Fprintf(out, "Training oracle...\n")
	}
	rep, err := l.Train(ctx)
	if err != nil {
		return err
	}
	if !jsonOut {
		fmt.Fprintf(out, "Oracle ready: %s (%d history rows, %d synthetic rows)\n\n",
			rep.Source, rep.HistoryRows, rep.SyntheticRows)
	}

	result := runOutput{Oracle: &rep, Batches: []lab.Summary{}}
	var runErr error
	for i := 0; i < n; i++ {
		run, err := l.RunBatch(ctx)
		if run != nil && run.Result != nil {
			sum := run.Summary()
			result.Batches = append(result.Batches, sum)
			if !jsonOut {
				printSummary(out, sum)
			}
		}
		if err != nil {
			runErr = err
			break
		}
	}

	if jsonOut {
		if runErr != nil {
			result.Error = runErr.Error()
		}
		if err := json.NewEncoder(out).Encode(result); err != nil {
			return err
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted after %d batch(es): %w", len(result.Batches), runErr)
	}
	return runErr
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func printTick(w io.Writer, t control.Tick) {
	line := fmt.Sprintf("  t=%3d  pH %5.2f  T %4.0fC  color %.2f  pred %.2f (conf %.2f)  %s",
		t.Record.TimeMin, t.Record.PH, t.Record.Temperature, t.Record.ColorIndex,
		t.Prediction.Capacity, t.Prediction.Confidence, t.Decision.Action)
	if t.Decision.Adjustment != nil {
		line += " " + t.Decision.Adjustment.String()
		if !t.ActuationOK {
			line += " (rejected)"
		}
	}
	if t.OracleError != "" {
		line += " [oracle: " + t.OracleError + "]"
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, s lab.Summary) {
	fmt.Fprintf(w, "%s (%s): %s", s.BatchID, s.BatchType, s.Outcome)
	if s.StopReason != "" {
		fmt.Fprintf(w, " - %s", s.StopReason)
	}
	fmt.Fprintf(w, "\n  minute %d, predicted %.2f, measured %.2f mmol/g (%s), %d intervention(s)\n",
		s.DurationMin, s.PredictedCapacity, s.GroundTruth, s.Quality, s.Interventions)
	if s.Overrides > 0 {
		fmt.Fprintf(w, "  %d operator command(s) delivered\n", s.Overrides)
	}
	if s.PersistError != "" {
		fmt.Fprintf(w, "  warning: not stored: %s\n", s.PersistError)
	}
	if s.ReportPath != "" {
		fmt.Fprintf(w, "  report: %s\n", pathutil.RedactPath(s.ReportPath))
	}
	if s.ReportError != "" {
		fmt.Fprintf(w, "  warning: report failed: %s\n", s.ReportError)
	}
	fmt.Fprintln(w)
}
