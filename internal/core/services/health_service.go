package services

import (
	"context"
	"time"

	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type HealthService struct {
	repo     ports.AnalysisRepository
	store    ports.UploadStore
	analyzer ports.Analyzer
	stats    ports.StatsCollector
	logger   *logger.Logger
	timeout  time.Duration
}

func NewHealthService(repo ports.AnalysisRepository, store ports.UploadStore, analyzer ports.Analyzer, stats ports.StatsCollector, log *logger.Logger) *HealthService {
	return &HealthService{
		repo:     repo,
		store:    store,
		analyzer: analyzer,
		stats:    stats,
		logger:   log,
		timeout:  3 * time.Second,
	}
}

// Check inspects each component. The database is required; storage problems
// only degrade the report.
func (s *HealthService) Check(ctx context.Context) api.HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := api.HealthReport{
		Status:     HealthHealthy,
		Timestamp:  time.Now().UTC(),
		Components: map[string]string{},
	}

	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warnw("health_database_failed", "error", err)
		report.Components["database"] = HealthUnhealthy
		report.Status = HealthUnhealthy
	} else {
		report.Components["database"] = HealthHealthy
	}

	storage := "storage_" + s.store.Name()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warnw("health_storage_failed", "driver", s.store.Name(), "error", err)
		report.Components[storage] = HealthUnhealthy
		if report.Status == HealthHealthy {
			report.Status = HealthDegraded
		}
	} else {
		report.Components[storage] = HealthHealthy
	}

	if s.analyzer != nil {
		report.Components["analyzer_"+s.analyzer.Name()] = HealthHealthy
	} else {
		report.Components["analyzer"] = HealthUnhealthy
		report.Status = HealthUnhealthy
	}

	if s.stats != nil {
		if sys, err := s.stats.Collect(ctx); err == nil {
			report.System = sys
		}
	}

	return report
}
