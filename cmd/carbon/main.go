package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/nvandessel/carbon-oracle/internal/config"
	"github.com/nvandessel/carbon-oracle/internal/llm"
	"github.com/nvandessel/carbon-oracle/internal/logging"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "carbon",
		Short: "Carbon oracle - closed-loop control for simulated carbonization batches",
		Long: `carbon runs simulated carbonization batches under the watch of a
predictive oracle. Every few minutes the oracle estimates the final CO2
capacity from the telemetry so far, and a decision agent stops batches
that are already good enough or clearly failing.

Finished batches are stored under .carbon/ and feed the next oracle.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: warn, info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newHistoryCmd(),
		newSimilarCmd(),
		newBackupCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig reads the project config and applies the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.CarbonConfig, error) {
	root, _ := cmd.Flags().GetString("root")
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.CarbonConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// newAnalyst builds the report writer for <carbonDir>/reports. A configured
// but unusable LLM provider is logged and the reports go without assessment.
func newAnalyst(cfg *config.CarbonConfig, carbonDir string, logger *slog.Logger) *report.Analyst {
	opts := []report.Option{
		report.WithLogger(logger),
		report.WithSimilarCases(cfg.Similarity.Cases),
		report.WithMetric(cfg.SimilarityMetric()),
	}
	if llmCfg, ok := cfg.LLMClientConfig(); ok {
		client, err := llm.NewClient(llmCfg)
		if err != nil {
			logger.Warn("LLM client unavailable, reports will skip the assessment", "error", err)
		} else {
			opts = append(opts, report.WithLLM(client, cfg.LLM.Timeout))
		}
	}
	return report.NewAnalyst(filepath.Join(carbonDir, report.DirName), opts...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
