package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/pkg/api"
)

type memRepo struct {
	mu       sync.Mutex
	rows     map[string]*domain.Analysis
	pingErr  error
	thoughts int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*domain.Analysis)}
}

func (r *memRepo) Create(ctx context.Context, a *domain.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.Thoughts = append([]domain.AnalysisThought(nil), a.Thoughts...)
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context, skip, limit int) ([]domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]domain.Analysis, 0, len(r.rows))
	for _, a := range r.rows {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memRepo) AppendThought(ctx context.Context, t *domain.AnalysisThought) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[t.AnalysisID]
	if !ok {
		return errors.New("missing analysis")
	}
	r.thoughts++
	t.ID = uint(r.thoughts)
	a.Thoughts = append(a.Thoughts, *t)
	return nil
}

func (r *memRepo) UpdateProgress(ctx context.Context, id string, status api.TaskStatus, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return errors.New("missing analysis")
	}
	a.Status = status
	a.Progress = progress
	return nil
}

func (r *memRepo) Complete(ctx context.Context, id string, results *api.Results, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return errors.New("missing analysis")
	}
	a.Status = api.TaskStatusCompleted
	a.Progress = 100
	a.Results = domain.ResultsJSON{Results: results}
	a.CompletedAt = &at
	return nil
}

func (r *memRepo) Fail(ctx context.Context, id string, msg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return errors.New("missing analysis")
	}
	a.Status = api.TaskStatusFailed
	a.Error = msg
	a.CompletedAt = &at
	return nil
}

func (r *memRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]domain.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Analysis
	for id, a := range r.rows {
		if a.Status.Terminal() && a.CreatedAt.Before(cutoff) {
			out = append(out, *a)
			delete(r.rows, id)
		}
	}
	return out, nil
}

func (r *memRepo) Ping(ctx context.Context) error { return r.pingErr }

func (r *memRepo) get(id string) domain.Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	pingErr error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return b, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrUploadNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *memStore) Ping(ctx context.Context) error { return s.pingErr }
func (s *memStore) Name() string                   { return "memory" }

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames map[string][]api.Frame
	done   chan string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{frames: make(map[string][]api.Frame), done: make(chan string, 16)}
}

func (p *recordingPublisher) Publish(taskID string, f api.Frame) {
	p.mu.Lock()
	p.frames[taskID] = append(p.frames[taskID], f)
	p.mu.Unlock()
	if f.Type == api.FrameAnalysisComplete || f.Type == api.FrameAnalysisError {
		p.done <- taskID
	}
}

func (p *recordingPublisher) types(taskID string) []api.FrameType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]api.FrameType, 0, len(p.frames[taskID]))
	for _, f := range p.frames[taskID] {
		out = append(out, f.Type)
	}
	return out
}
