package ports

import (
	"context"
	"time"

	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/pkg/api"
)

type AnalysisRepository interface {
	Create(ctx context.Context, analysis *domain.Analysis) error
	// GetByID loads the analysis with its thoughts in timestamp order.
	GetByID(ctx context.Context, id string) (*domain.Analysis, error)
	// List returns analyses newest first, without thoughts.
	List(ctx context.Context, skip, limit int) ([]domain.Analysis, error)
	AppendThought(ctx context.Context, thought *domain.AnalysisThought) error
	UpdateProgress(ctx context.Context, id string, status api.TaskStatus, progress int) error
	Complete(ctx context.Context, id string, results *api.Results, at time.Time) error
	Fail(ctx context.Context, id string, message string, at time.Time) error
	// DeleteFinishedBefore removes completed and failed analyses created before cutoff
	// and returns the removed rows.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]domain.Analysis, error)
	Ping(ctx context.Context) error
}

// UploadStore keeps raw uploads until the analysis worker has read them.
type UploadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Name() string
}
