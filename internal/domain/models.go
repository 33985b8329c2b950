package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/processlens/backend/pkg/api"
)

// ==================== JSONB TYPES ====================

// ResultsJSON stores analysis results in a jsonb column.
type ResultsJSON struct {
	*api.Results
}

func (r ResultsJSON) Value() (driver.Value, error) {
	if r.Results == nil {
		return nil, nil
	}
	return json.Marshal(r.Results)
}

func (r *ResultsJSON) Scan(value interface{}) error {
	if value == nil {
		r.Results = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	var res api.Results
	if err := json.Unmarshal(bytes, &res); err != nil {
		return err
	}
	r.Results = &res
	return nil
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("failed to scan jsonb: invalid type")
	}
}

// ==================== ENTITIES ====================

type Analysis struct {
	ID        string    `gorm:"primaryKey;size:36" json:"task_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectName string         `gorm:"size:255;not null" json:"project_name"`
	Filename    string         `gorm:"size:255;not null" json:"filename"`
	ContentType string         `gorm:"size:255" json:"content_type"`
	Size        int64          `gorm:"not null;default:0" json:"size"`
	UploadKey   string         `gorm:"size:255" json:"-"`
	Status      api.TaskStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Progress    int            `gorm:"not null;default:0" json:"progress"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Model       string         `gorm:"size:50" json:"model,omitempty"`
	Results     ResultsJSON    `gorm:"type:jsonb" json:"results,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	Thoughts []AnalysisThought `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"thoughts,omitempty"`
}

type AnalysisThought struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	AnalysisID string    `gorm:"size:36;not null;index" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"timestamp"`
	Stage      string    `gorm:"size:50;not null" json:"stage"`
	Thought    string    `gorm:"type:text;not null" json:"thought"`
	Progress   int       `gorm:"not null" json:"progress"`
}

// DatasetBlob holds an uploaded file when storage.driver is "db".
type DatasetBlob struct {
	Key       string    `gorm:"primaryKey;size:255"`
	CreatedAt time.Time `gorm:"index"`
	Data      []byte    `gorm:"type:bytea;not null"`
}

func (t AnalysisThought) ToAPI() api.Thought {
	return api.Thought{
		Timestamp: t.CreatedAt,
		Stage:     t.Stage,
		Thought:   t.Thought,
		Progress:  t.Progress,
	}
}

// Snapshot renders the analysis in the shape served over REST and the stream.
func (a *Analysis) Snapshot() api.TaskSnapshot {
	thoughts := make([]api.Thought, 0, len(a.Thoughts))
	for _, t := range a.Thoughts {
		thoughts = append(thoughts, t.ToAPI())
	}
	return api.TaskSnapshot{
		TaskID:   a.ID,
		Status:   a.Status,
		Progress: a.Progress,
		Thoughts: thoughts,
		Results:  a.Results.Results,
		Error:    a.Error,
		Metadata: api.TaskMetadata{
			ProjectName: a.ProjectName,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		},
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
}

func (a *Analysis) Project() api.Project {
	return api.Project{
		TaskID:    a.ID,
		Name:      a.ProjectName,
		Filename:  a.Filename,
		Status:    a.Status,
		Progress:  a.Progress,
		CreatedAt: a.CreatedAt,
	}
}
