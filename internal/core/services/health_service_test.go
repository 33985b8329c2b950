package services

import (
	"context"
	"errors"
	"testing"

	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
	"github.com/stretchr/testify/assert"
)

type staticStats struct{}

func (staticStats) Collect(ctx context.Context) (*api.SystemStats, error) {
	return &api.SystemStats{Hostname: "test-host", RAMUsage: 42}, nil
}

func TestHealthService_Check(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	svc := NewHealthService(repo, store, NewProfiler(0), staticStats{}, logger.NewNop())

	report := svc.Check(context.Background())
	assert.Equal(t, HealthHealthy, report.Status)
	assert.Equal(t, HealthHealthy, report.Components["database"])
	assert.Equal(t, HealthHealthy, report.Components["storage_memory"])
	assert.Equal(t, HealthHealthy, report.Components["analyzer_profiler"])
	if assert.NotNil(t, report.System) {
		assert.Equal(t, "test-host", report.System.Hostname)
	}

	store.pingErr = errors.New("sftp unreachable")
	report = svc.Check(context.Background())
	assert.Equal(t, HealthDegraded, report.Status)
	assert.Equal(t, HealthUnhealthy, report.Components["storage_memory"])

	repo.pingErr = errors.New("connection refused")
	report = svc.Check(context.Background())
	assert.Equal(t, HealthUnhealthy, report.Status)
	assert.Equal(t, HealthUnhealthy, report.Components["database"])
}
