package services

import (
	"context"
	"testing"

	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() *domain.Dataset {
	return &domain.Dataset{
		Format:  FormatCSV,
		Columns: []string{"region", "amount", "day", "source", "notes"},
		Rows: [][]string{
			{"north", "10", "2024-01-01", "crm", ""},
			{"south", "20", "2024-01-02", "crm", ""},
			{"north", "", "2024-01-03", "crm", "n/a"},
			{"north", "30", "2024-01-04", "crm", ""},
			{"east", "40", "2024-01-05", "crm", ""},
		},
	}
}

func TestProfiler_StagesInOrder(t *testing.T) {
	var stages []string
	_, err := NewProfiler(3).Analyze(context.Background(), sampleDataset(), func(stage, thought string) {
		assert.NotEmpty(t, thought)
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		api.StageStructureAnalysis,
		api.StagePatternMining,
		api.StagePerformanceAnalysis,
		api.StageImprovementGeneration,
		api.StageFinalSynthesis,
	}, stages)
}

func TestProfiler_Results(t *testing.T) {
	res, err := NewProfiler(3).Analyze(context.Background(), sampleDataset(), nil)
	require.NoError(t, err)

	perf := res.Performance
	assert.Equal(t, 5, perf.Rows)
	assert.Equal(t, 5, perf.Columns)
	assert.InDelta(t, 1-6.0/25.0, perf.Metrics["completeness"], 1e-9)
	assert.EqualValues(t, 0, perf.Metrics["duplicate_rows"])

	byName := map[string]api.ColumnProfile{}
	for _, p := range perf.Profile {
		byName[p.Name] = p
	}
	assert.Equal(t, KindCategorical, byName["region"].Kind)
	assert.Equal(t, KindNumeric, byName["amount"].Kind)
	assert.Equal(t, KindDatetime, byName["day"].Kind)
	assert.Equal(t, KindEmpty, byName["notes"].Kind)
	require.NotNil(t, byName["amount"].Mean)
	assert.InDelta(t, 25.0, *byName["amount"].Mean, 1e-9)
	assert.InDelta(t, 10.0, *byName["amount"].Min, 1e-9)
	assert.InDelta(t, 40.0, *byName["amount"].Max, 1e-9)
	assert.InDelta(t, 0.2, byName["amount"].MissingRatio, 1e-9)

	require.NotEmpty(t, res.Patterns)
	assert.Equal(t, api.Pattern{Column: "region", Value: "north", Frequency: 3, Share: 0.6}, res.Patterns[0])

	issues := map[string]string{}
	for _, imp := range res.Improvements {
		issues[imp.Column] = imp.Priority
	}
	assert.Equal(t, "high", issues["amount"])
	assert.Equal(t, "medium", issues["notes"])
	assert.Equal(t, "low", issues["source"])
	assert.NotEmpty(t, res.Summary)
}

func TestProfiler_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProfiler(0).Analyze(ctx, sampleDataset(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProfiler_EmptyDataset(t *testing.T) {
	_, err := NewProfiler(0).Analyze(context.Background(), &domain.Dataset{Columns: []string{"a"}}, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}
