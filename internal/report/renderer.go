package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	qerrors "github.com/arkilian/qgate/internal/errors"
)

// Renderer writes a summary's artifacts and returns the figure and JSON paths.
type Renderer interface {
	Render(ctx context.Context, s Summary) (imagePath, jsonPath string, err error)
}

// FileRenderer writes <dir>/plots/<ts>.png, <dir>/<ts>.json and <dir>/<ts>.txt.
type FileRenderer struct {
	dir string
	now func() time.Time
}

// NewFileRenderer creates a renderer rooted at dir.
func NewFileRenderer(dir string) *FileRenderer {
	return &FileRenderer{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (r *FileRenderer) Dir() string {
	return r.dir
}

// Render writes the figure, the JSON summary and the text table.
func (r *FileRenderer) Render(ctx context.Context, s Summary) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = r.now()
	}

	plotsDir := filepath.Join(r.dir, "plots")
	if err := os.MkdirAll(plotsDir, 0755); err != nil {
		return "", "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to create plots directory", err)
	}

	base := timestamp(s.GeneratedAt)
	imagePath := filepath.Join(plotsDir, base+".png")
	jsonPath := filepath.Join(r.dir, base+".json")
	tablePath := filepath.Join(r.dir, base+".txt")

	if err := writePNG(imagePath, drawFigure(s.AggregatedMetrics)); err != nil {
		return "", "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to write figure", err)
	}
	if s.Queries == nil {
		s.Queries = []QueryPoint{}
	}
	if err := writeJSON(jsonPath, s); err != nil {
		return "", "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to write summary", err)
	}
	title := fmt.Sprintf("Scenario averages over %d queries", len(s.Queries))
	if err := writeTableFile(tablePath, title, s.AvgLatencySec, s.AvgThroughputRPS, s.AggregatedMetrics); err != nil {
		return "", "", qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to write table", err)
	}
	return imagePath, jsonPath, nil
}

// timestamp formats t as 20060102_150405_000000 (microseconds).
func timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
