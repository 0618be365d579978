package report

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/ledger"
	"github.com/arkilian/qgate/internal/observability"
	"github.com/arkilian/qgate/internal/storage"
)

// Service runs maintenance cycles: drain the ledger, aggregate, render and
// optionally publish the artifacts.
type Service struct {
	ledger          *ledger.Ledger
	renderer        Renderer
	store           storage.ObjectStorage
	prefix          string
	countInScenario bool

	logger  *zap.Logger
	metrics *observability.Metrics
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// CountInScenario is copied into every summary
	CountInScenario bool

	// Store receives the rendered artifacts; nil keeps them local only
	Store storage.ObjectStorage

	// Prefix is prepended to published object paths
	Prefix string
}

// NewService creates a maintenance service.
func NewService(l *ledger.Ledger, r Renderer, cfg ServiceConfig, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:          l,
		renderer:        r,
		store:           cfg.Store,
		prefix:          cfg.Prefix,
		countInScenario: cfg.CountInScenario,
		logger:          logger,
		metrics:         metrics,
	}
}

// Maintain drains the ledger and writes a report. An empty ledger skips
// rendering and returns nil. Publishing failures are logged; the local
// artifacts are already written at that point.
func (s *Service) Maintain(ctx context.Context, latencies []float64) error {
	outcomes := s.ledger.Drain()
	if len(outcomes) == 0 {
		s.metrics.MaintenanceRun("empty")
		s.logger.Info("no results collected yet; skipping report",
			zap.Int("client_latencies", len(latencies)))
		return nil
	}

	summary := Aggregate(outcomes, latencies, s.countInScenario)
	summary.GeneratedAt = time.Now()

	imagePath, jsonPath, err := s.renderer.Render(ctx, summary)
	if err != nil {
		s.metrics.MaintenanceRun("failed")
		return qerrors.NewReportError(qerrors.CodeRenderFailed, "failed to render report", err)
	}
	s.metrics.MaintenanceRun("rendered")

	s.logger.Info("scenario complete",
		zap.Int("outcomes", len(outcomes)),
		zap.Float64("avg_latency_sec", summary.AvgLatencySec),
		zap.Float64("avg_throughput_rows_per_sec", summary.AvgThroughputRPS),
		zap.String("figure", imagePath),
		zap.String("summary", jsonPath))

	if s.store != nil {
		if err := s.publish(ctx, imagePath, jsonPath); err != nil {
			s.logger.Warn("failed to publish report", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, imagePath, jsonPath string) error {
	base := jsonPath[:len(jsonPath)-len(filepath.Ext(jsonPath))]
	uploads := map[string]string{
		imagePath:     storage.ObjectPath(s.prefix, "plots/"+filepath.Base(imagePath)),
		jsonPath:      storage.ObjectPath(s.prefix, filepath.Base(jsonPath)),
		base + ".txt": storage.ObjectPath(s.prefix, filepath.Base(base)+".txt"),
	}
	for local, object := range uploads {
		if err := s.store.Upload(ctx, local, object); err != nil {
			return qerrors.NewStorageError(qerrors.CodeUploadFailed, "failed to upload "+object, err)
		}
	}
	return nil
}
