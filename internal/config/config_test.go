package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Analysis.WindowHours != 24 {
		t.Errorf("WindowHours = %d, want 24", cfg.Analysis.WindowHours)
	}
	if cfg.Analysis.TopCategories != 5 {
		t.Errorf("TopCategories = %d, want 5", cfg.Analysis.TopCategories)
	}
	if cfg.Analysis.TopProducts != 10 {
		t.Errorf("TopProducts = %d, want 10", cfg.Analysis.TopProducts)
	}
	if cfg.Analysis.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", cfg.Analysis.Interval)
	}
	if cfg.Address() != "localhost:8084" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANALYSIS_WINDOW_HOURS", "6")
	t.Setenv("ANALYSIS_INTERVAL_MINUTES", "15")
	t.Setenv("SOURCE_DRIVER", "csv")
	t.Setenv("SOURCE_CSV_FILE", "sales.csv")
	t.Setenv("EVENTS_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Analysis.WindowHours != 6 {
		t.Errorf("WindowHours = %d, want 6", cfg.Analysis.WindowHours)
	}
	if cfg.Analysis.Interval != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", cfg.Analysis.Interval)
	}
	if cfg.Source.Driver != "csv" || cfg.Source.CSVFile != "sales.csv" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if len(cfg.Events.Brokers) != 2 || cfg.Events.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Events.Brokers)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.yaml")
	content := `
analysis:
  window_hours: 12
  top_categories: 3
  fetch_timeout: 5s
narrative:
  provider: disabled
snapshot:
  path: /tmp/snap.json
  report_id: looker-123
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANALYSIS_TOP_CATEGORIES", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Analysis.WindowHours != 12 {
		t.Errorf("WindowHours = %d, want 12", cfg.Analysis.WindowHours)
	}
	if cfg.Analysis.TopCategories != 7 {
		t.Errorf("TopCategories = %d, want env override 7", cfg.Analysis.TopCategories)
	}
	if cfg.Analysis.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v, want 5s", cfg.Analysis.FetchTimeout)
	}
	if cfg.Snapshot.ReportID != "looker-123" {
		t.Errorf("ReportID = %q", cfg.Snapshot.ReportID)
	}
	if cfg.Analysis.TopProducts != 10 {
		t.Errorf("TopProducts should keep default, got %d", cfg.Analysis.TopProducts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"SERVER_PORT": "70000"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "zero window", env: map[string]string{"ANALYSIS_WINDOW_HOURS": "-1"}},
		{name: "unknown driver", env: map[string]string{"SOURCE_DRIVER": "oracle"}},
		{name: "csv without file", env: map[string]string{"SOURCE_DRIVER": "csv"}},
		{name: "table injection", env: map[string]string{"SOURCE_TABLE": "sales; DROP TABLE x"}},
		{name: "unknown provider", env: map[string]string{"NARRATIVE_PROVIDER": "oracle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
