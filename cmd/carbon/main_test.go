package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/carbon-oracle/internal/backup"
	"github.com/nvandessel/carbon-oracle/internal/config"
	"github.com/nvandessel/carbon-oracle/internal/lab"
	"github.com/nvandessel/carbon-oracle/internal/report"
	"github.com/nvandessel/carbon-oracle/internal/store"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeSmallConfig keeps simulated batches and training short.
func writeSmallConfig(t *testing.T, root string) {
	t.Helper()
	cfg := config.Default()
	cfg.Loop.ExperimentDurationMin = 40
	cfg.Agent.WarmupMinutes = 10
	cfg.Oracle.EnsembleSize = 5
	cfg.Oracle.SyntheticBatches = 8
	cfg.Oracle.AugmentBatches = 4
	cfg.Logging.Level = "warn"
	if err := cfg.Save(config.Path(root)); err != nil {
		t.Fatalf("saving config: %v", err)
	}
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	rootCmd := newRootCmd()
	want := []string{"version", "run", "history", "similar", "backup", "config", "mcp-server"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}

	for _, flag := range []string{"json", "root", "log-level"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing --%s flag", flag)
		}
	}
}

func TestNewRunCmd_Flags(t *testing.T) {
	cmd := newRunCmd()
	if cmd.Use != "run" {
		t.Errorf("Use = %q, want %q", cmd.Use, "run")
	}
	for _, flag := range []string{"batches", "seed", "batch-type", "duration", "interval", "no-report", "quiet", "metrics-addr"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("missing --%s flag", flag)
		}
	}
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing output %q: %v", out, err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
	if !strings.HasPrefix(got["go"], "go") || got["platform"] == "" {
		t.Errorf("runtime fields missing: %v", got)
	}
}

func TestRunCmd_JSONThenHistoryAndSimilar(t *testing.T) {
	root := t.TempDir()
	writeSmallConfig(t, root)

	out, err := execute(t, "run", "--root", root, "--json", "--batches", "2", "--seed", "5", "--batch-type", "optimal")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var result runOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("parsing run output %q: %v", out, err)
	}
	if result.Oracle == nil || result.Oracle.Source != "synthetic" {
		t.Errorf("Oracle = %+v, want synthetic", result.Oracle)
	}
	if len(result.Batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(result.Batches))
	}
	for i, want := range []string{"BATCH_001", "BATCH_002"} {
		if result.Batches[i].BatchID != want {
			t.Errorf("batch %d = %q, want %q", i, result.Batches[i].BatchID, want)
		}
		if result.Batches[i].ReportPath == "" {
			t.Errorf("batch %d has no report", i)
		}
	}

	reports, err := filepath.Glob(filepath.Join(store.CarbonPath(root), report.DirName, "*.md"))
	if err != nil || len(reports) != 2 {
		t.Errorf("found %d reports, want 2 (err %v)", len(reports), err)
	}

	out, err = execute(t, "history", "--root", root, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var hist struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("parsing history output: %v", err)
	}
	if hist.Count != 2 {
		t.Errorf("history count = %d, want 2", hist.Count)
	}

	out, err = execute(t, "similar", "batch_001", "--root", root, "--json")
	if err != nil {
		t.Fatalf("similar failed: %v", err)
	}
	var sim struct {
		Matches []struct {
			BatchID string `json:"batch_id"`
		} `json:"matches"`
	}
	if err := json.Unmarshal([]byte(out), &sim); err != nil {
		t.Fatalf("parsing similar output: %v", err)
	}
	if len(sim.Matches) != 1 || sim.Matches[0].BatchID != "BATCH_002" {
		t.Errorf("matches = %+v, want only BATCH_002", sim.Matches)
	}

	out, err = execute(t, "similar", "BATCH_002", "--root", root, "--json", "--metric", "cosine")
	if err != nil {
		t.Fatalf("similar --metric cosine failed: %v", err)
	}
	sim.Matches = nil
	if err := json.Unmarshal([]byte(out), &sim); err != nil {
		t.Fatalf("parsing similar output: %v", err)
	}
	if len(sim.Matches) != 1 || sim.Matches[0].BatchID != "BATCH_001" {
		t.Errorf("cosine matches = %+v, want only BATCH_001", sim.Matches)
	}
}

func TestRunCmd_TextOutput(t *testing.T) {
	root := t.TempDir()
	writeSmallConfig(t, root)

	out, err := execute(t, "run", "--root", root, "--seed", "9", "--no-report")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"Training oracle...", "Oracle ready: synthetic", "BATCH_001 (", "t=  0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "report:") {
		t.Error("--no-report still wrote a report")
	}
	if _, err := os.Stat(filepath.Join(store.CarbonPath(root), report.DirName)); !os.IsNotExist(err) {
		t.Error("reports directory created with --no-report")
	}
}

func TestRunCmd_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero batches", []string{"--batches", "0"}},
		{"unknown batch type", []string{"--batch-type", "volcanic"}},
		{"command without minute", []string{"--command", "set_temp:700"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeSmallConfig(t, root)
			args := append([]string{"run", "--root", root}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunCmd_OperatorCommands(t *testing.T) {
	root := t.TempDir()
	writeSmallConfig(t, root)

	out, err := execute(t, "run", "--root", root, "--json", "--seed", "5", "--no-report",
		"--command", "0=set_temp:700", "--command", "0=heat:max")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var result runOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("parsing run output %q: %v", out, err)
	}
	if len(result.Batches) != 1 || result.Batches[0].Overrides != 2 {
		t.Errorf("batches = %+v, want one batch with 2 operator commands", result.Batches)
	}
}

func TestHistoryCmd_Empty(t *testing.T) {
	out, err := execute(t, "history", "--root", t.TempDir())
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No experiments on record") {
		t.Errorf("output = %q", out)
	}
}

func TestHistoryExportImport(t *testing.T) {
	src := t.TempDir()
	writeSmallConfig(t, src)
	if _, err := execute(t, "run", "--root", src, "--seed", "3", "--batches", "2", "--no-report", "--quiet"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	exportPath := filepath.Join(t.TempDir(), "experiments.jsonl")
	out, err := execute(t, "history", "export", exportPath, "--root", src)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.Contains(out, "Exported 2 experiment(s)") {
		t.Errorf("export output = %q", out)
	}

	dst := t.TempDir()
	for i := 0; i < 2; i++ {
		if _, err := execute(t, "history", "import", exportPath, "--root", dst); err != nil {
			t.Fatalf("import %d failed: %v", i, err)
		}
	}

	s, err := store.NewSQLiteStore(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	n, err := s.CountExperiments(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("imported store has %d experiments, want 2 after importing twice", n)
	}
}

func TestSimilarCmd_NotFound(t *testing.T) {
	if _, err := execute(t, "similar", "BATCH_404", "--root", t.TempDir()); err == nil {
		t.Error("expected error for unknown batch")
	}
}

func TestSimilarCmd_UnknownMetric(t *testing.T) {
	_, err := execute(t, "similar", "BATCH_001", "--root", t.TempDir(), "--metric", "manhattan")
	if err == nil || !strings.Contains(err.Error(), "unknown similarity metric") {
		t.Errorf("error = %v, want unknown similarity metric", err)
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		arg  string
		want lab.Ref
	}{
		{"BATCH_007", lab.Ref{BatchID: "BATCH_007"}},
		{"batch_007", lab.Ref{BatchID: "BATCH_007"}},
		{"6f1c2a4e-0000-4000-8000-000000000000", lab.Ref{ExperimentID: "6f1c2a4e-0000-4000-8000-000000000000"}},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			if got := parseRef(tt.arg); got != tt.want {
				t.Errorf("parseRef(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestConfigCmds(t *testing.T) {
	root := t.TempDir()

	out, err := execute(t, "config", "init", "--root", root)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, "Wrote default configuration") {
		t.Errorf("init output = %q", out)
	}
	if _, err := execute(t, "config", "init", "--root", root); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "config", "init", "--root", root, "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}

	out, err = execute(t, "config", "validate", "--root", root)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("validate output = %q", out)
	}

	out, err = execute(t, "config", "show", "--root", root, "--json")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	var shown config.CarbonConfig
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("parsing show output: %v", err)
	}
	if shown.Loop.PredictionIntervalMin != config.Default().Loop.PredictionIntervalMin {
		t.Errorf("prediction interval = %d", shown.Loop.PredictionIntervalMin)
	}
}

func TestConfigShow_RedactsAPIKey(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test-1234567890abcdef"
	if err := cfg.Save(config.Path(root)); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "show", "--root", root)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if strings.Contains(out, "1234567890") {
		t.Errorf("API key leaked:\n%s", out)
	}
	if !strings.Contains(out, "sk-t...cdef") {
		t.Errorf("redacted key missing:\n%s", out)
	}
}

func TestConfigValidate_Invalid(t *testing.T) {
	root := t.TempDir()
	path := config.Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("loop:\n  prediction_interval_min: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "config", "validate", "--root", root); err == nil {
		t.Error("expected validation error")
	}
}

func TestBackupCmds(t *testing.T) {
	root := t.TempDir()
	writeSmallConfig(t, root)
	if _, err := execute(t, "run", "--root", root, "--seed", "4", "--batches", "2", "--no-report", "--quiet"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, err := execute(t, "backup", "--root", root, "--json")
	if err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	var created struct {
		Path        string `json:"path"`
		Experiments int    `json:"experiments"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("parsing backup output %q: %v", out, err)
	}
	if created.Experiments != 2 {
		t.Errorf("backed up %d experiments, want 2", created.Experiments)
	}
	if filepath.Dir(created.Path) != backup.Dir(root) {
		t.Errorf("backup written to %s, want %s", created.Path, backup.Dir(root))
	}

	out, err = execute(t, "backup", "list", "--root", root)
	if err != nil {
		t.Fatalf("backup list failed: %v", err)
	}
	if !strings.Contains(out, filepath.Base(created.Path)) {
		t.Errorf("list output missing snapshot:\n%s", out)
	}

	out, err = execute(t, "backup", "verify", created.Path)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.HasPrefix(out, "OK: 2 experiment(s)") {
		t.Errorf("verify output = %q", out)
	}

	dst := t.TempDir()
	out, err = execute(t, "backup", "restore", created.Path, "--root", dst)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !strings.Contains(out, "Restored 2 experiment(s), skipped 0") {
		t.Errorf("restore output = %q", out)
	}
	out, err = execute(t, "backup", "restore", created.Path, "--root", dst)
	if err != nil {
		t.Fatalf("second restore failed: %v", err)
	}
	if !strings.Contains(out, "Restored 0 experiment(s), skipped 2") {
		t.Errorf("second restore output = %q", out)
	}
}

func TestBackupCmd_OutputOutsideProject(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "snap.json.gz")
	if _, err := execute(t, "backup", "--root", root, "--output", outside); err == nil {
		t.Error("expected an output path outside the project to be rejected")
	}
}

func TestBackupList_Empty(t *testing.T) {
	out, err := execute(t, "backup", "list", "--root", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No backups yet") {
		t.Errorf("output = %q", out)
	}
}
