package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/backup"
	"github.com/nvandessel/carbon-oracle/internal/config"
	"github.com/nvandessel/carbon-oracle/internal/pathutil"
	"github.com/nvandessel/carbon-oracle/internal/store"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the experiment store",
		Long: `Write a compressed, checksummed snapshot of every stored experiment.

Default location: .carbon/backups/carbon-backup-YYYYMMDD-HHMMSS.json.gz
Older snapshots are pruned by the backup section of the config
(default: keep the last 10).

Examples:
  carbon backup                        # Snapshot to the default location
  carbon backup --output snap.json.gz  # Snapshot inside the project
  carbon backup list                   # List snapshots
  carbon backup verify <file>          # Check a snapshot's checksum
  carbon backup restore <file>         # Add missing experiments back`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			noPrune, _ := cmd.Flags().GetBool("no-prune")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			policy, err := retentionPolicy(cfg)
			if err != nil {
				return err
			}

			dir := backup.Dir(root)
			if outputPath == "" {
				outputPath = backup.GeneratePath(dir, time.Now())
			} else {
				outputPath, err = pathutil.Within(outputPath, []string{root})
				if err != nil {
					return fmt.Errorf("backup path rejected: %w", err)
				}
			}

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			header, err := backup.Create(cmd.Context(), expStore, outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			var pruned []string
			if !noPrune {
				pruned, err = backup.Prune(dir, policy, time.Now())
				if err != nil {
					logger.Warn("failed to apply backup retention", "error", err)
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":        outputPath,
					"experiments": header.ExperimentCount,
					"checksum":    header.Checksum,
					"pruned":      len(pruned),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %d experiment(s)\n", header.ExperimentCount)
			fmt.Fprintf(out, "  Path: %s\n", outputPath)
			if len(pruned) > 0 {
				fmt.Fprintf(out, "  Pruned %d old snapshot(s)\n", len(pruned))
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Snapshot path inside the project (default: .carbon/backups/<timestamp>)")
	cmd.Flags().Bool("no-prune", false, "Keep every existing snapshot")

	cmd.AddCommand(newBackupListCmd(), newBackupVerifyCmd(), newBackupRestoreCmd())
	return cmd
}

func retentionPolicy(cfg *config.CarbonConfig) (backup.Policy, error) {
	policy, err := backup.NewPolicy(cfg.Backup.MaxCount, cfg.Backup.MaxAge, cfg.Backup.MaxTotalSize)
	if err != nil {
		return nil, fmt.Errorf("invalid backup retention: %w", err)
	}
	return policy, nil
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots in .carbon/backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			backups, err := backup.List(backup.Dir(root))
			if err != nil {
				return err
			}

			if jsonOut {
				if backups == nil {
					backups = []backup.Info{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"backups": backups,
					"count":   len(backups),
				})
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintln(out, "No backups yet. Create one with 'carbon backup'.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tCREATED\tEXPERIMENTS\tSIZE")
			for _, b := range backups {
				count := "?"
				if b.Readable {
					count = fmt.Sprintf("%d", b.Experiments)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", filepath.Base(b.Path),
					b.CreatedAt.Local().Format("2006-01-02 15:04"), count, formatSize(b.Size))
			}
			return tw.Flush()
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check the checksum of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := backup.Verify(args[0])
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(header)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d experiment(s), created %s\n",
				header.ExperimentCount, header.CreatedAt.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Load a snapshot into the experiment store",
		Long: `Load a snapshot into .carbon/experiments.db.

By default experiments already in the store are left alone and only the
missing ones are added. With --overwrite, stored experiments that share an
id with the snapshot are replaced by the snapshot's copy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			mode := backup.RestoreMerge
			if overwrite {
				mode = backup.RestoreOverwrite
			}

			expStore, err := store.NewSQLiteStore(root)
			if err != nil {
				return fmt.Errorf("failed to open experiment store: %w", err)
			}
			defer expStore.Close()

			result, err := backup.Restore(cmd.Context(), expStore, args[0], mode)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d experiment(s), skipped %d\n", result.Restored, result.Skipped)
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "Replace stored experiments that share an id")
	return cmd
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
