package report

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeScenario(t *testing.T, dir, name string, doc map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCombine(t *testing.T) {
	in := t.TempDir()
	writeScenario(t, in, "a.json", map[string]interface{}{
		"avg_latency_sec":             0.2,
		"avg_throughput_rows_per_sec": 100.0,
		"aggregated_metrics": map[string]interface{}{
			"cpu": map[string]float64{"pre": 10, "during": 20, "post": 30},
		},
	})
	writeScenario(t, in, "b.json", map[string]interface{}{
		"avg_latency_sec": 0.4,
		"aggregated_metrics": map[string]interface{}{
			"cpu": map[string]float64{"pre": 30, "during": 40, "post": 50},
		},
	})
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := ExpandInputs([]string{filepath.Join(in, "*"), filepath.Join(in, "a.json")})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected two json inputs, got %v", files)
	}

	out := t.TempDir()
	c, jsonPath, err := Combine(context.Background(), files, out)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if c.FilesCombined != 2 {
		t.Errorf("FilesCombined = %d", c.FilesCombined)
	}
	if math.Abs(c.AvgLatencySec-0.3) > 1e-9 {
		t.Errorf("AvgLatencySec = %v, want 0.3", c.AvgLatencySec)
	}
	// Only one file carries throughput
	if c.AvgThroughputRPS != 100 {
		t.Errorf("AvgThroughputRPS = %v, want 100", c.AvgThroughputRPS)
	}
	if c.AggregatedMetrics.CPU.During != 30 {
		t.Errorf("cpu during = %v, want 30", c.AggregatedMetrics.CPU.During)
	}
	if _, err := os.Stat(c.FigurePath); err != nil {
		t.Errorf("figure not written: %v", err)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["figure_path"] != c.FigurePath || doc["files_combined"].(float64) != 2 {
		t.Errorf("unexpected combined document: %v", doc)
	}
}

func TestCombine_Errors(t *testing.T) {
	if _, _, err := Combine(context.Background(), nil, t.TempDir()); err == nil {
		t.Error("expected error without inputs")
	}

	bad := writeScenarioRaw(t, "{not json")
	if _, _, err := Combine(context.Background(), []string{bad}, t.TempDir()); err == nil {
		t.Error("expected parse error")
	}
}

func writeScenarioRaw(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}
