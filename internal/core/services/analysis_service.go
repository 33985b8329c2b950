package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/internal/infrastructure/logger"
	"github.com/processlens/backend/pkg/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

type AnalysisServiceConfig struct {
	Repo           ports.AnalysisRepository
	Store          ports.UploadStore
	Analyzer       ports.Analyzer
	Publisher      ports.Publisher
	Logger         *logger.Logger
	MaxUploadBytes int64
	Workers        int64
	Now            func() time.Time
}

type AnalysisService struct {
	repo      ports.AnalysisRepository
	store     ports.UploadStore
	analyzer  ports.Analyzer
	publisher ports.Publisher
	logger    *logger.Logger
	maxUpload int64
	now       func() time.Time

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewAnalysisService(cfg AnalysisServiceConfig) *AnalysisService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AnalysisService{
		repo:      cfg.Repo,
		store:     cfg.Store,
		analyzer:  cfg.Analyzer,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
		now:       now,
		sem:       semaphore.NewWeighted(workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start stores the upload, records a processing analysis and queues it for a worker.
func (s *AnalysisService) Start(ctx context.Context, upload domain.Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", ErrEmptyUpload
	}
	if s.maxUpload > 0 && int64(len(upload.Data)) > s.maxUpload {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrUploadTooLarge, len(upload.Data), s.maxUpload)
	}
	if _, err := DetectFormat(upload.Filename, upload.ContentType); err != nil {
		return "", err
	}

	projectName := strings.TrimSpace(upload.ProjectName)
	if projectName == "" {
		projectName = upload.Filename
	}

	id := uuid.New().String()
	key := id + strings.ToLower(filepath.Ext(upload.Filename))
	if err := s.store.Put(ctx, key, upload.Data); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	analysis := &domain.Analysis{
		ID:          id,
		CreatedAt:   s.now(),
		ProjectName: projectName,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Size:        int64(len(upload.Data)),
		UploadKey:   key,
		Status:      api.TaskStatusProcessing,
		Model:       upload.Model,
	}
	if err := s.repo.Create(ctx, analysis); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warnw("upload_rollback_failed", "task_id", id, "key", key, "error", delErr)
		}
		return "", fmt.Errorf("failed to create analysis: %w", err)
	}

	s.logger.Infow("analysis_started",
		"task_id", id,
		"project", projectName,
		"filename", upload.Filename,
		"size", len(upload.Data),
		"analyzer", s.analyzer.Name(),
		"request_id", ctx.Value("request_id"),
	)

	s.wg.Add(1)
	go s.run(analysis)

	return id, nil
}

func (s *AnalysisService) run(a *domain.Analysis) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("analysis_panic", "task_id", a.ID, "panic", r)
			s.fail(a.ID, fmt.Sprintf("analysis panic: %v", r))
		}
	}()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.fail(a.ID, "server shutting down")
		return
	}
	defer s.sem.Release(1)

	if err := s.process(s.ctx, a); err != nil {
		s.logger.Errorw("analysis_failed", "task_id", a.ID, "error", err)
		s.fail(a.ID, err.Error())
	}
}

func (s *AnalysisService) process(ctx context.Context, a *domain.Analysis) error {
	start := time.Now()

	data, err := s.store.Get(ctx, a.UploadKey)
	if err != nil {
		return fmt.Errorf("failed to load upload: %w", err)
	}

	ds, err := ParseDataset(a.Filename, a.ContentType, data)
	if err != nil {
		return err
	}

	var thoughtErr error
	results, err := s.analyzer.Analyze(ctx, ds, func(stage, text string) {
		if thoughtErr == nil {
			thoughtErr = s.recordThought(ctx, a.ID, stage, text)
		}
	})
	if err != nil {
		return err
	}
	if thoughtErr != nil {
		return thoughtErr
	}

	if err := s.repo.Complete(ctx, a.ID, results, s.now()); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	snap, err := s.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	s.publish(a.ID, api.FrameAnalysisComplete, snap)

	s.logger.Infow("analysis_completed",
		"task_id", a.ID,
		"rows", results.Performance.Rows,
		"columns", results.Performance.Columns,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *AnalysisService) recordThought(ctx context.Context, id, stage, text string) error {
	progress := api.StageProgress[stage]
	thought := &domain.AnalysisThought{
		AnalysisID: id,
		CreatedAt:  s.now(),
		Stage:      stage,
		Thought:    text,
		Progress:   progress,
	}
	if err := s.repo.AppendThought(ctx, thought); err != nil {
		return fmt.Errorf("failed to save thought: %w", err)
	}
	if err := s.repo.UpdateProgress(ctx, id, api.TaskStatusProcessing, progress); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	s.publish(id, api.FrameThoughtUpdate, thought.ToAPI())
	return nil
}

func (s *AnalysisService) fail(id, msg string) {
	// the worker context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Fail(ctx, id, msg, s.now()); err != nil {
		s.logger.Errorw("analysis_fail_record_failed", "task_id", id, "error", err)
	}
	s.publish(id, api.FrameAnalysisError, api.AnalysisErrorData{Error: msg})
}

func (s *AnalysisService) publish(id string, t api.FrameType, data any) {
	if s.publisher == nil {
		return
	}
	frame, err := api.NewFrame(t, data)
	if err != nil {
		s.logger.Errorw("stream_frame_encode_failed", "task_id", id, "type", t, "error", err)
		return
	}
	s.publisher.Publish(id, frame)
}

func (s *AnalysisService) Get(ctx context.Context, id string) (*api.TaskSnapshot, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAnalysisNotFound
	}
	snap := a.Snapshot()
	return &snap, nil
}

// List returns projects newest first. limit is clamped to [1, 100], defaulting to 10.
func (s *AnalysisService) List(ctx context.Context, skip, limit int) ([]api.Project, error) {
	if skip < 0 {
		skip = 0
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	rows, err := s.repo.List(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	projects := make([]api.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, rows[i].Project())
	}
	return projects, nil
}

// Cleanup deletes finished analyses older than days and their stored uploads.
func (s *AnalysisService) Cleanup(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, ErrInvalidCleanupDays
	}
	cutoff := s.now().AddDate(0, 0, -days)

	removed, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete analyses: %w", err)
	}

	for _, a := range removed {
		if a.UploadKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, a.UploadKey); err != nil && !errors.Is(err, ErrUploadNotFound) {
			s.logger.Warnw("cleanup_upload_delete_failed", "task_id", a.ID, "key", a.UploadKey, "error", err)
		}
	}

	s.logger.Infow("cleanup_completed", "days", days, "cutoff", cutoff, "deleted", len(removed))
	return int64(len(removed)), nil
}

// Shutdown stops queued work and waits for running analyses up to ctx.
func (s *AnalysisService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
