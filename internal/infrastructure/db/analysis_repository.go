package db

import (
	"context"
	"errors"
	"time"

	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
	"gorm.io/gorm"
)

type analysisRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepository(db *gorm.DB, log *logger.Logger) ports.AnalysisRepository {
	return &analysisRepository{db: db, log: log}
}

func (r *analysisRepository) Create(ctx context.Context, analysis *domain.Analysis) error {
	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		r.log.Errorw("analysis_repo_create_failed", "id", analysis.ID, "error", err)
		return err
	}
	r.log.Debugw("analysis_repo_create_ok", "id", analysis.ID, "project", analysis.ProjectName)
	return nil
}

// GetByID returns nil, nil when the analysis does not exist.
func (r *analysisRepository) GetByID(ctx context.Context, id string) (*domain.Analysis, error) {
	var analysis domain.Analysis
	err := r.db.WithContext(ctx).
		Preload("Thoughts", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&analysis).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("analysis_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &analysis, nil
}

func (r *analysisRepository) List(ctx context.Context, skip, limit int) ([]domain.Analysis, error) {
	var analyses []domain.Analysis
	if err := r.db.WithContext(ctx).
		Omit("Results").
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&analyses).Error; err != nil {
		r.log.Errorw("analysis_repo_list_failed", "skip", skip, "limit", limit, "error", err)
		return nil, err
	}
	return analyses, nil
}

func (r *analysisRepository) AppendThought(ctx context.Context, thought *domain.AnalysisThought) error {
	if err := r.db.WithContext(ctx).Create(thought).Error; err != nil {
		r.log.Errorw("analysis_repo_thought_failed", "id", thought.AnalysisID, "stage", thought.Stage, "error", err)
		return err
	}
	return nil
}

func (r *analysisRepository) UpdateProgress(ctx context.Context, id string, status api.TaskStatus, progress int) error {
	return r.update(ctx, id, "progress", map[string]interface{}{
		"status":   status,
		"progress": progress,
	})
}

func (r *analysisRepository) Complete(ctx context.Context, id string, results *api.Results, at time.Time) error {
	return r.update(ctx, id, "complete", map[string]interface{}{
		"status":       api.TaskStatusCompleted,
		"progress":     100,
		"results":      domain.ResultsJSON{Results: results},
		"completed_at": at,
	})
}

func (r *analysisRepository) Fail(ctx context.Context, id string, message string, at time.Time) error {
	return r.update(ctx, id, "fail", map[string]interface{}{
		"status":       api.TaskStatusFailed,
		"error":        message,
		"completed_at": at,
	})
}

func (r *analysisRepository) update(ctx context.Context, id, op string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Analysis{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		r.log.Errorw("analysis_repo_update_failed", "id", id, "op", op, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *analysisRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]domain.Analysis, error) {
	var removed []domain.Analysis
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "upload_key", "status", "created_at").
			Where("status IN ? AND created_at < ?", []api.TaskStatus{api.TaskStatusCompleted, api.TaskStatusFailed}, cutoff).
			Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(removed))
		for _, a := range removed {
			ids = append(ids, a.ID)
		}
		if err := tx.Where("analysis_id IN ?", ids).Delete(&domain.AnalysisThought{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Analysis{}).Error
	})
	if err != nil {
		r.log.Errorw("analysis_repo_cleanup_failed", "cutoff", cutoff, "error", err)
		return nil, err
	}
	r.log.Infow("analysis_repo_cleanup_ok", "cutoff", cutoff, "count", len(removed))
	return removed, nil
}

func (r *analysisRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
