package report

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arkilian/qgate/pkg/types"
)

func TestFileRenderer_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	r := NewFileRenderer(dir)

	s := Aggregate([]types.Outcome{outcome(10, 100, 20)}, []float64{0.25}, false)
	s.GeneratedAt = time.Date(2026, 3, 4, 5, 6, 7, 890123000, time.UTC)

	imagePath, jsonPath, err := r.Render(context.Background(), s)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if want := filepath.Join(dir, "plots", "20260304_050607_890123.png"); imagePath != want {
		t.Errorf("imagePath = %s, want %s", imagePath, want)
	}
	if want := filepath.Join(dir, "20260304_050607_890123.json"); jsonPath != want {
		t.Errorf("jsonPath = %s, want %s", jsonPath, want)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("figure is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != panelCols*panelWidth || b.Dy() != panelRows*panelHeight {
		t.Errorf("unexpected figure size %v", b)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"avg_latency_sec", "avg_throughput_rows_per_sec", "queries", "aggregated_metrics", "count_cache_in_scenario"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("summary missing key %q", key)
		}
	}
	if doc["avg_latency_sec"].(float64) != 0.25 {
		t.Errorf("avg_latency_sec = %v", doc["avg_latency_sec"])
	}

	table, err := os.ReadFile(strings.TrimSuffix(jsonPath, ".json") + ".txt")
	if err != nil {
		t.Fatalf("missing table: %v", err)
	}
	if !bytes.Contains(table, []byte("memory (MB)")) {
		t.Errorf("table missing memory row:\n%s", table)
	}
}

func TestFileRenderer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewFileRenderer(t.TempDir()).Render(ctx, Summary{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestDrawFigure_BarsScaledPerPanel(t *testing.T) {
	u := types.Usage{MemoryMB: types.Phase{Pre: 50, During: 100, Post: 0}}
	img := drawFigure(u)

	// The tallest bar in the memory panel reaches the top of the plot area
	slot := (panelWidth - 2*panelMargin) / 3
	x := panelMargin + slot + slot/2
	if got := img.RGBAAt(x, panelMargin+1); got != phaseColors[1] {
		t.Errorf("expected during bar at top of panel, got %v", got)
	}
	// Zero post bar leaves the plot empty
	x = panelMargin + 2*slot + slot/2
	if got := img.RGBAAt(x, panelHeight-panelMargin-5); got == phaseColors[2] {
		t.Error("expected no bar for a zero value")
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, "title", 0.5, 12.5, types.Usage{NetKBps: types.Phase{During: 3.5}})
	out := buf.String()
	for _, want := range []string{"title", "network (KB/s)", "3.5", "500.00 ms", "12.50 rows/s"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MS") || strings.Contains(out, "ROWS/S") {
		t.Errorf("footer units were upper-cased:\n%s", out)
	}
}
