package main

import (
	"fmt"

	"github.com/nvandessel/carbon-oracle/internal/mcp"
	"github.com/nvandessel/carbon-oracle/internal/metrics"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve carbon tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout.

Tools:
  carbon_run_batch   Run simulated batches under oracle control
  carbon_history     List stored experiments
  carbon_similar     Find past batches closest to a stored one

Resources:
  carbon://experiments/recent   Latest batches as a markdown table
  carbon://experiments/{id}     One experiment in full

Logs go to stderr; tool calls are audited to .carbon/audit.jsonl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			carbonDir, err := store.EnsureCarbonDir(root)
			if err != nil {
				return err
			}

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

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "carbon",
				Version: version,
				Root:    root,
				Carbon:  cfg,
				Analyst: newAnalyst(cfg, carbonDir, logger),
				Metrics: m,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}

			logger.Info("mcp server listening on stdio", "root", root)
			return server.Run(ctx)
		},
	}
}
