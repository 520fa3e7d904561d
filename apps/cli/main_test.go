package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/acm19/pixcanon/internal/config"
	"github.com/acm19/pixcanon/internal/pics"
	"github.com/spf13/cobra"
)

func newFlagCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&maxSize, "max-size", "", "")
	cmd.Flags().StringVar(&namePolicy, "policy", "", "")
	cmd.Flags().BoolVar(&accelerated, "accelerated", false, "")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "")
	cmd.Flags().StringVar(&encoderName, "encoder", "", "")
	cmd.Flags().StringVar(&archiveBucket, "archive-bucket", "", "")
	cmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "c", 0, "")
	return cmd
}

func defaultSettings() *config.Settings {
	return &config.Settings{
		Pipeline:           pics.DefaultConfig(),
		Encoder:            pics.EncoderAuto,
		ArchiveConcurrency: 4,
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
		check       func(t *testing.T, s *config.Settings)
	}{
		{
			name: "no flags keeps settings",
			args: nil,
			check: func(t *testing.T, s *config.Settings) {
				if s.Pipeline != pics.DefaultConfig() {
					t.Errorf("Expected default pipeline, got %+v", s.Pipeline)
				}
			},
		},
		{
			name: "max size in human units",
			args: []string{"--max-size", "1MB"},
			check: func(t *testing.T, s *config.Settings) {
				if s.Pipeline.MaxFileSize != 1_000_000 {
					t.Errorf("Expected 1000000, got %d", s.Pipeline.MaxFileSize)
				}
			},
		},
		{
			name: "content policy and accelerated",
			args: []string{"--policy", "content", "--accelerated"},
			check: func(t *testing.T, s *config.Settings) {
				if s.Pipeline.NamePolicy != pics.PolicyContent {
					t.Errorf("Expected content policy, got %s", s.Pipeline.NamePolicy)
				}
				if !s.Pipeline.Accelerated {
					t.Error("Expected accelerated mode")
				}
			},
		},
		{
			name: "workers and encoder",
			args: []string{"-w", "3", "--encoder", "builtin"},
			check: func(t *testing.T, s *config.Settings) {
				if s.Pipeline.Workers() != 3 {
					t.Errorf("Expected 3 workers, got %d", s.Pipeline.Workers())
				}
				if s.Encoder != pics.EncoderBuiltin {
					t.Errorf("Expected builtin encoder, got %s", s.Encoder)
				}
			},
		},
		{
			name: "archive bucket and concurrency",
			args: []string{"--archive-bucket", "originals", "-c", "2"},
			check: func(t *testing.T, s *config.Settings) {
				if s.ArchiveBucket != "originals" || s.ArchiveConcurrency != 2 {
					t.Errorf("Unexpected archive settings: %q/%d", s.ArchiveBucket, s.ArchiveConcurrency)
				}
			},
		},
		{name: "invalid size", args: []string{"--max-size", "huge"}, expectError: true},
		{name: "invalid policy", args: []string{"--policy", "sequential"}, expectError: true},
		{name: "zero workers", args: []string{"--workers", "0"}, expectError: true},
		{name: "unknown encoder", args: []string{"--encoder", "gpu"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newFlagCommand(t)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("Failed to parse flags: %v", err)
			}
			settings := defaultSettings()
			err := applyFlags(cmd, settings)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for args %v, got nil", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error for args %v, got: %v", tt.args, err)
			}
			tt.check(t, settings)
		})
	}
}

func TestPlanRows(t *testing.T) {
	planned := []pics.PlannedFile{
		{Unit: "/b", Asset: pics.SourceAsset{Size: 100}, Action: pics.ActionConvert},
		{Unit: "/a", Asset: pics.SourceAsset{Size: 10}, Action: pics.ActionSkip},
		{Unit: "/a", Asset: pics.SourceAsset{Size: 2048}, Action: pics.ActionRenameOnly},
		{Unit: "/a", Err: errors.New("gone")},
		{Unit: "/b", Asset: pics.SourceAsset{Size: 300}, Action: pics.ActionRecompress},
	}

	rows := planRows(planned)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	want := [][]string{
		{"/a", "0", "0", "1", "1", "1", "2.0 KiB"},
		{"/b", "1", "1", "0", "0", "0", "400 B"},
	}
	for i := range want {
		if strings.Join(rows[i], "|") != strings.Join(want[i], "|") {
			t.Errorf("Row %d: expected %v, got %v", i, want[i], rows[i])
		}
	}
}

func TestRunSummaryRows(t *testing.T) {
	summary := pics.RunSummary{
		Units: []pics.UnitSummary{
			{
				Dir:     "/photos",
				Skipped: 2,
				Results: []pics.ConversionResult{
					{Action: pics.ActionConvert, State: pics.TaskDone, SourceSize: 2048, FinalSize: 1024},
					{Action: pics.ActionConvert, State: pics.TaskDone, Duplicate: true, SourceSize: 1024},
					{Action: pics.ActionRenameOnly, State: pics.TaskDone, SourceSize: 1024, FinalSize: 1024},
					{Action: pics.ActionConvert, State: pics.TaskFailed, Err: pics.ErrDecode},
					{Action: pics.ActionRecompress, State: pics.TaskCancelled, Err: pics.ErrCancelled},
				},
			},
			{Dir: "/locked", Err: pics.ErrUnitLocked},
		},
	}

	rows := runSummaryRows(summary)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	got := strings.Join(rows[0], "|")
	want := "/photos|1|0|1|2|1|1|1|4.0 KiB|2.0 KiB|ok"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if rows[1][len(rows[1])-1] != pics.ErrUnitLocked.Error() {
		t.Errorf("Expected locked status, got %q", rows[1][len(rows[1])-1])
	}
	if summary.Failed() != 2 {
		t.Errorf("Expected 2 failures, got %d", summary.Failed())
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable([]column{left("Name"), right("Count")}, [][]string{{"a", "1"}, {"long name"}})
	if !strings.Contains(out, "long name") || !strings.Contains(out, "Count") {
		t.Errorf("Unexpected table output:\n%s", out)
	}
	if strings.Contains(out, "COUNT") || strings.Contains(out, "NAME") {
		t.Errorf("Expected headers kept as written:\n%s", out)
	}
	if !strings.Contains(out, "    1 │") {
		t.Errorf("Expected the count right-aligned:\n%s", out)
	}
	if renderTable(nil, nil) != "" {
		t.Error("Expected empty output for no columns")
	}
}

func TestExitStatus(t *testing.T) {
	failed := pics.RunSummary{Units: []pics.UnitSummary{{
		Dir:     "/photos",
		Results: []pics.ConversionResult{{State: pics.TaskFailed, Err: pics.ErrDecode}},
	}}}

	tests := []struct {
		name     string
		summary  pics.RunSummary
		err      error
		expected int
	}{
		{"success", pics.RunSummary{}, nil, 0},
		{"no candidates", pics.RunSummary{}, pics.ErrNoCandidates, 1},
		{"missing root", pics.RunSummary{}, pics.ErrRootMissing, 1},
		{"file failures", failed, nil, 1},
		{"interrupted", pics.RunSummary{Cancelled: true}, nil, 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitStatus(tt.summary, tt.err); got != tt.expected {
				t.Errorf("Expected exit status %d, got %d", tt.expected, got)
			}
		})
	}
}
