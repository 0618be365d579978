package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/pkg/types"
)

// Combined is the average of several scenario summaries.
type Combined struct {
	FilesCombined     int         `json:"files_combined"`
	AvgLatencySec     float64     `json:"avg_latency_sec"`
	AvgThroughputRPS  float64     `json:"avg_throughput_rows_per_sec"`
	AggregatedMetrics types.Usage `json:"aggregated_metrics"`
	FigurePath        string      `json:"figure_path"`
}

// scenarioFile is the subset of a summary document that Combine reads.
// Pointer KPIs distinguish a missing key from a zero value.
type scenarioFile struct {
	AvgLatencySec     *float64    `json:"avg_latency_sec"`
	AvgThroughputRPS  *float64    `json:"avg_throughput_rows_per_sec"`
	AggregatedMetrics types.Usage `json:"aggregated_metrics"`
}

// ExpandInputs resolves glob patterns to a sorted, de-duplicated list of
// .json files.
func ExpandInputs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, qerrors.NewValidationError(qerrors.CodeInvalidConfig, fmt.Sprintf("bad pattern %q: %v", pattern, err))
		}
		for _, m := range matches {
			if strings.ToLower(filepath.Ext(m)) != ".json" || seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Combine averages the usage of every file phase-wise, and the KPIs over the
// files that carry them. It writes combined_<n>files_<ts>.png and a JSON
// document with the same stem into outDir.
func Combine(ctx context.Context, files []string, outDir string) (Combined, string, error) {
	if len(files) == 0 {
		return Combined{}, "", qerrors.NewValidationError(qerrors.CodeInvalidConfig, "no summary files to combine")
	}

	usages := make([]types.Usage, 0, len(files))
	var latencies, throughputs []float64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Combined{}, "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Combined{}, "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to read "+path, err)
		}
		var sf scenarioFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return Combined{}, "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to parse "+path, err)
		}
		usages = append(usages, sf.AggregatedMetrics)
		if sf.AvgLatencySec != nil {
			latencies = append(latencies, *sf.AvgLatencySec)
		}
		if sf.AvgThroughputRPS != nil {
			throughputs = append(throughputs, *sf.AvgThroughputRPS)
		}
	}

	c := Combined{
		FilesCombined:     len(files),
		AvgLatencySec:     mean(latencies),
		AvgThroughputRPS:  mean(throughputs),
		AggregatedMetrics: AverageUsage(usages),
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return Combined{}, "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to create output directory", err)
	}
	stem := fmt.Sprintf("combined_%dfiles_%s", len(files), time.Now().Format("20060102_150405"))
	c.FigurePath = filepath.Join(outDir, stem+".png")
	jsonPath := filepath.Join(outDir, stem+".json")

	if err := writePNG(c.FigurePath, drawFigure(c.AggregatedMetrics)); err != nil {
		return Combined{}, "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to write figure", err)
	}
	if err := writeJSON(jsonPath, c); err != nil {
		return Combined{}, "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to write combined summary", err)
	}
	return c, jsonPath, nil
}
