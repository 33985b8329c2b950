package ports

import (
	"context"

	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/pkg/api"
)

// ThoughtFunc receives each reasoning step as the analyzer produces it.
type ThoughtFunc func(stage, thought string)

type Analyzer interface {
	Analyze(ctx context.Context, ds *domain.Dataset, emit ThoughtFunc) (*api.Results, error)
	Name() string
}

type AnalysisService interface {
	Start(ctx context.Context, upload domain.Upload) (string, error)
	Get(ctx context.Context, id string) (*api.TaskSnapshot, error)
	List(ctx context.Context, skip, limit int) ([]api.Project, error)
	Cleanup(ctx context.Context, days int) (int64, error)
}

// Publisher fans stream frames out to the subscribers of a task.
type Publisher interface {
	Publish(taskID string, frame api.Frame)
}

type StatsCollector interface {
	Collect(ctx context.Context) (*api.SystemStats, error)
}

type HealthService interface {
	Check(ctx context.Context) api.HealthReport
}
