package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/processlens/backend/pkg/api"
	"github.com/processlens/backend/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStartAnalysis_SendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "orders.csv", header.Filename)
		assert.Equal(t, "a,b\n1,2\n", string(body))
		assert.Equal(t, "Q3 orders", r.FormValue("project_name"))

		writeJSON(w, http.StatusAccepted, api.AnalyzeResponse{TaskID: "abc123", Status: "accepted", Message: "Analysis started"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	resp, err := c.StartAnalysis(context.Background(), "Q3 orders", "orders.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.TaskID)
	assert.Equal(t, "accepted", resp.Status)
}

func TestGetStatus_RouteStyles(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, api.TaskSnapshot{TaskID: "t1", Status: api.TaskStatusProcessing, Progress: 40})
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).GetStatus(context.Background(), "t1")
	require.NoError(t, err)
	snap, err := New(Config{BaseURL: srv.URL, RouteStyle: RouteAnalyze}).GetStatus(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, []string{"/status/t1", "/analyze/t1"}, paths)
	assert.Equal(t, 40, snap.Progress)

	_, err = New(Config{BaseURL: srv.URL}).GetStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestErrorNormalisation(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error field", http.StatusNotFound, `{"error":"Analysis not found","status_code":404}`, "Analysis not found"},
		{"detail string", http.StatusBadRequest, `{"detail":"No file uploaded"}`, "No file uploaded"},
		{"detail list", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, "field required"},
		{"plain text", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty", http.StatusInternalServerError, ``, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).GetStatus(context.Background(), "x")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, tt.wantMsg)
		})
	}
}

func TestIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorBody{Error: "Analysis not found", StatusCode: 404})
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).GetStatus(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(nil))
}

func TestListProjects_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("skip"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []api.Project{{TaskID: "b", Name: "second"}, {TaskID: "a", Name: "first"}})
	}))
	defer srv.Close()

	projects, err := New(Config{BaseURL: srv.URL}).ListProjects(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "b", projects[0].TaskID)
}

func TestHealth_DegradedStillReturnsReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, api.HealthReport{
			Status:     "unhealthy",
			Components: map[string]string{"database": "unhealthy"},
		})
	}))
	defer srv.Close()

	report, err := New(Config{BaseURL: srv.URL}).Health(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "unhealthy", report.Components["database"])
}

func TestCleanup_SendsAdminToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Admin-Token"))
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		writeJSON(w, http.StatusOK, api.CleanupReceipt{Deleted: 3, Days: 7})
	}))
	defer srv.Close()

	receipt, err := New(Config{BaseURL: srv.URL, AdminToken: "secret"}).Cleanup(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, receipt.Deleted)
}

func TestWaitForCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		snap := api.TaskSnapshot{TaskID: "t1", Status: api.TaskStatusProcessing, Progress: int(n) * 20}
		if n >= 3 {
			snap.Status = api.TaskStatusCompleted
			snap.Progress = 100
		}
		writeJSON(w, http.StatusOK, snap)
	}))
	defer srv.Close()

	snap, err := New(Config{BaseURL: srv.URL}).WaitForCompletion(context.Background(), "t1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, api.TaskStatusCompleted, snap.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitForCompletion_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.TaskSnapshot{TaskID: "t1", Status: api.TaskStatusPending})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: srv.URL}).WaitForCompletion(ctx, "t1", 5*time.Millisecond)
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	c := New(Config{BaseURL: "https://api.example.com", Model: "deep"})
	u, err := c.StreamURL("abc 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws/abc%201?model=deep", u)

	cfg := c.StreamConfig()
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, "deep", cfg.Model)
}

func TestDiscoverStreamConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ProcessLens API","version":"1.0.0","docs":"/health",
			"stream":{"path":"/ws/{task_id}","ping_interval_ms":15000,"retry_intervals_ms":[500,1000],"max_retries":3}}`))
	}))
	defer srv.Close()

	cfg, err := New(Config{BaseURL: srv.URL, Model: "deep"}).DiscoverStreamConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, cfg.RetrySchedule)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, srv.URL, cfg.BaseURL)
	assert.Equal(t, "deep", cfg.Model)
}

func TestDiscoverStreamConfig_KeepsDefaultsWithoutSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"ProcessLens API","version":"0.9"}`))
	}))
	defer srv.Close()

	cfg, err := New(Config{BaseURL: srv.URL}).DiscoverStreamConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.DefaultConfig().RetrySchedule, cfg.RetrySchedule)
	assert.Equal(t, 5, cfg.MaxRetries)
}
