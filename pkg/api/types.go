// Package api holds the wire contract shared by the ProcessLens server and its clients.
package api

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further progress can be expected for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Analysis stages and the progress each one reports.
const (
	StageStructureAnalysis     = "structure_analysis"
	StagePatternMining         = "pattern_mining"
	StagePerformanceAnalysis   = "performance_analysis"
	StageImprovementGeneration = "improvement_generation"
	StageFinalSynthesis        = "final_synthesis"
)

var StageProgress = map[string]int{
	StageStructureAnalysis:     20,
	StagePatternMining:         40,
	StagePerformanceAnalysis:   60,
	StageImprovementGeneration: 80,
	StageFinalSynthesis:        100,
}

type Thought struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Thought   string    `json:"thought"`
	Progress  int       `json:"progress"`
}

type ColumnProfile struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	MissingRatio float64  `json:"missing_ratio"`
	Distinct     int      `json:"distinct"`
	Mean         *float64 `json:"mean,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
}

type Performance struct {
	Rows    int                `json:"rows"`
	Columns int                `json:"columns"`
	Metrics map[string]float64 `json:"metrics"`
	Profile []ColumnProfile    `json:"profile"`
}

type Pattern struct {
	Column    string  `json:"column"`
	Value     string  `json:"value"`
	Frequency int     `json:"frequency"`
	Share     float64 `json:"share"`
}

type Improvement struct {
	Column     string `json:"column,omitempty"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
	Priority   string `json:"priority"`
}

type Results struct {
	Performance  Performance   `json:"performance"`
	Patterns     []Pattern     `json:"patterns"`
	Improvements []Improvement `json:"improvements"`
	Summary      string        `json:"summary"`
}

type TaskMetadata struct {
	ProjectName string `json:"project_name"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// TaskSnapshot is the full state of one analysis task.
type TaskSnapshot struct {
	TaskID      string       `json:"task_id"`
	Status      TaskStatus   `json:"status"`
	Progress    int          `json:"progress"`
	Thoughts    []Thought    `json:"thoughts"`
	Results     *Results     `json:"results,omitempty"`
	Error       string       `json:"error,omitempty"`
	Metadata    TaskMetadata `json:"metadata"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

type Project struct {
	TaskID    string     `json:"task_id"`
	Name      string     `json:"name"`
	Filename  string     `json:"filename"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
}

type AnalyzeResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type SystemStats struct {
	CPUUsage float64 `json:"cpu_usage"`
	RAMUsage float64 `json:"ram_usage"`
	RAMTotal uint64  `json:"ram_total"`
	RAMUsed  uint64  `json:"ram_used"`
	Uptime   uint64  `json:"uptime"`
	Hostname string  `json:"hostname"`
	Platform string  `json:"platform"`
}

type HealthReport struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	System     *SystemStats      `json:"system,omitempty"`
}

// StreamSettings advertises the server's stream timing so clients can match it.
type StreamSettings struct {
	Path             string  `json:"path"`
	PingIntervalMS   int64   `json:"ping_interval_ms"`
	RetryIntervalsMS []int64 `json:"retry_intervals_ms"`
	MaxRetries       int     `json:"max_retries"`
}

// ServerInfo is served at the API root.
type ServerInfo struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Docs    string          `json:"docs"`
	Stream  *StreamSettings `json:"stream,omitempty"`
}

type CleanupReceipt struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
	Days    int    `json:"days"`
}

// ErrorBody is the error payload. Older servers send "detail" instead of "error".
type ErrorBody struct {
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e ErrorBody) Message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Detail
}

// ==================== Stream frames ====================

type FrameType string

const (
	FrameInitialState     FrameType = "initial_state"
	FrameStatusUpdate     FrameType = "status_update"
	FrameThoughtUpdate    FrameType = "thought_update"
	FrameAnalysisComplete FrameType = "analysis_complete"
	FrameAnalysisError    FrameType = "analysis_error"
	FramePong             FrameType = "pong"

	FramePing          FrameType = "ping"
	FrameStatusRequest FrameType = "status_request"
)

type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame of the given type.
func NewFrame(t FrameType, data any) (Frame, error) {
	if data == nil {
		return Frame{Type: t}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Data: raw}, nil
}

type AnalysisErrorData struct {
	Error string `json:"error"`
}
