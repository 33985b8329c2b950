package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/domain"
	"github.com/processlens/backend/pkg/api"
)

const (
	KindNumeric     = "numeric"
	KindDatetime    = "datetime"
	KindCategorical = "categorical"
	KindEmpty       = "empty"
)

const (
	highMissingRatio   = 0.2
	mediumMissingRatio = 0.05
)

var missingTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {}, "-": {},
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01/02/2006",
}

// Profiler is the built-in analyzer. It walks a dataset through the five
// analysis stages and reports a thought for each finding.
type Profiler struct {
	TopN int
}

func NewProfiler(topN int) *Profiler {
	if topN <= 0 {
		topN = 5
	}
	return &Profiler{TopN: topN}
}

func (p *Profiler) Name() string { return "profiler" }

type columnStats struct {
	profile api.ColumnProfile
	counts  map[string]int
	present int
}

func (p *Profiler) Analyze(ctx context.Context, ds *domain.Dataset, emit ports.ThoughtFunc) (*api.Results, error) {
	if emit == nil {
		emit = func(string, string) {}
	}
	if len(ds.Rows) == 0 {
		return nil, ErrEmptyDataset
	}

	// structure
	stats := make([]*columnStats, len(ds.Columns))
	kinds := make(map[string]int)
	for i, name := range ds.Columns {
		stats[i] = profileColumn(name, ds.Column(i))
		kinds[stats[i].profile.Kind]++
	}
	emit(api.StageStructureAnalysis, fmt.Sprintf("Dataset has %d rows and %d columns (%s).",
		len(ds.Rows), len(ds.Columns), formatOrUnknown(ds.Format)))
	emit(api.StageStructureAnalysis, fmt.Sprintf("Detected %d numeric, %d categorical, %d datetime and %d empty columns.",
		kinds[KindNumeric], kinds[KindCategorical], kinds[KindDatetime], kinds[KindEmpty]))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// patterns
	patterns := p.minePatterns(stats)
	if len(patterns) == 0 {
		emit(api.StagePatternMining, "No repeating categorical values found.")
	}
	reported := make(map[string]bool)
	for _, pt := range patterns {
		if reported[pt.Column] {
			continue
		}
		reported[pt.Column] = true
		emit(api.StagePatternMining, fmt.Sprintf("Most frequent value in %q is %q (%d rows, %.1f%%).",
			pt.Column, pt.Value, pt.Frequency, pt.Share*100))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// performance
	perf := performance(ds, stats, kinds)
	emit(api.StagePerformanceAnalysis, fmt.Sprintf("Data completeness is %.1f%% with %d duplicate rows.",
		perf.Metrics["completeness"]*100, int(perf.Metrics["duplicate_rows"])))
	for _, cs := range stats {
		if cs.profile.Kind == KindNumeric && cs.profile.Mean != nil {
			emit(api.StagePerformanceAnalysis, fmt.Sprintf("%q ranges from %s to %s, mean %s.",
				cs.profile.Name, fmtFloat(*cs.profile.Min), fmtFloat(*cs.profile.Max), fmtFloat(*cs.profile.Mean)))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// improvements
	improvements := suggest(stats, len(ds.Rows), int(perf.Metrics["duplicate_rows"]))
	emit(api.StageImprovementGeneration, fmt.Sprintf("Generated %d improvement suggestions.", len(improvements)))
	for _, imp := range improvements {
		if imp.Priority == "high" {
			emit(api.StageImprovementGeneration, imp.Suggestion)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Profiled %d rows across %d columns: %.1f%% complete, %d patterns, %d suggestions.",
		len(ds.Rows), len(ds.Columns), perf.Metrics["completeness"]*100, len(patterns), len(improvements))
	emit(api.StageFinalSynthesis, summary)

	return &api.Results{
		Performance:  perf,
		Patterns:     patterns,
		Improvements: improvements,
		Summary:      summary,
	}, nil
}

func isMissing(v string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

func profileColumn(name string, values []string) *columnStats {
	cs := &columnStats{
		profile: api.ColumnProfile{Name: name},
		counts:  make(map[string]int),
	}

	numeric, dated := true, true
	var sum float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if isMissing(v) {
			continue
		}
		cs.present++
		cs.counts[v]++

		if numeric {
			f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				numeric = false
			} else {
				sum += f
				lo = math.Min(lo, f)
				hi = math.Max(hi, f)
			}
		}
		if dated && !parsesAsDate(v) {
			dated = false
		}
	}

	if len(values) > 0 {
		cs.profile.MissingRatio = float64(len(values)-cs.present) / float64(len(values))
	}
	cs.profile.Distinct = len(cs.counts)

	switch {
	case cs.present == 0:
		cs.profile.Kind = KindEmpty
	case numeric:
		cs.profile.Kind = KindNumeric
		mean := sum / float64(cs.present)
		cs.profile.Mean, cs.profile.Min, cs.profile.Max = &mean, &lo, &hi
	case dated:
		cs.profile.Kind = KindDatetime
	default:
		cs.profile.Kind = KindCategorical
	}
	return cs
}

func parsesAsDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func (p *Profiler) minePatterns(stats []*columnStats) []api.Pattern {
	var out []api.Pattern
	for _, cs := range stats {
		if cs.profile.Kind != KindCategorical || cs.present == 0 {
			continue
		}
		values := make([]string, 0, len(cs.counts))
		for v, n := range cs.counts {
			if n > 1 {
				values = append(values, v)
			}
		}
		sort.Slice(values, func(i, j int) bool {
			ci, cj := cs.counts[values[i]], cs.counts[values[j]]
			if ci != cj {
				return ci > cj
			}
			return values[i] < values[j]
		})
		if len(values) > p.TopN {
			values = values[:p.TopN]
		}
		for _, v := range values {
			out = append(out, api.Pattern{
				Column:    cs.profile.Name,
				Value:     v,
				Frequency: cs.counts[v],
				Share:     float64(cs.counts[v]) / float64(cs.present),
			})
		}
	}
	return out
}

func performance(ds *domain.Dataset, stats []*columnStats, kinds map[string]int) api.Performance {
	cells := len(ds.Rows) * len(ds.Columns)
	missing := 0
	profile := make([]api.ColumnProfile, 0, len(stats))
	for _, cs := range stats {
		missing += len(ds.Rows) - cs.present
		profile = append(profile, cs.profile)
	}

	seen := make(map[string]struct{}, len(ds.Rows))
	duplicates := 0
	for _, row := range ds.Rows {
		key := strings.Join(row, "\x1f")
		if _, ok := seen[key]; ok {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
	}

	completeness := 1.0
	if cells > 0 {
		completeness = 1 - float64(missing)/float64(cells)
	}

	return api.Performance{
		Rows:    len(ds.Rows),
		Columns: len(ds.Columns),
		Metrics: map[string]float64{
			"completeness":        completeness,
			"missing_cells":       float64(missing),
			"duplicate_rows":      float64(duplicates),
			"numeric_columns":     float64(kinds[KindNumeric]),
			"categorical_columns": float64(kinds[KindCategorical]),
			"datetime_columns":    float64(kinds[KindDatetime]),
		},
		Profile: profile,
	}
}

func suggest(stats []*columnStats, rows, duplicates int) []api.Improvement {
	var out []api.Improvement
	if duplicates > 0 {
		out = append(out, api.Improvement{
			Issue:      fmt.Sprintf("%d duplicate rows", duplicates),
			Suggestion: "Deduplicate records before downstream processing.",
			Priority:   "medium",
		})
	}
	for _, cs := range stats {
		pr := cs.profile
		switch {
		case pr.Kind == KindEmpty:
			out = append(out, api.Improvement{
				Column:     pr.Name,
				Issue:      "column has no values",
				Suggestion: fmt.Sprintf("Drop the empty column %q.", pr.Name),
				Priority:   "medium",
			})
			continue
		case pr.MissingRatio >= highMissingRatio:
			out = append(out, api.Improvement{
				Column:     pr.Name,
				Issue:      fmt.Sprintf("%.0f%% missing values", pr.MissingRatio*100),
				Suggestion: fmt.Sprintf("Backfill %q at the source or exclude it from reporting.", pr.Name),
				Priority:   "high",
			})
		case pr.MissingRatio >= mediumMissingRatio:
			out = append(out, api.Improvement{
				Column:     pr.Name,
				Issue:      fmt.Sprintf("%.0f%% missing values", pr.MissingRatio*100),
				Suggestion: fmt.Sprintf("Impute missing %q values or make the field mandatory.", pr.Name),
				Priority:   "medium",
			})
		}
		if pr.Distinct == 1 && rows > 1 {
			out = append(out, api.Improvement{
				Column:     pr.Name,
				Issue:      "constant value",
				Suggestion: fmt.Sprintf("%q carries no information; consider dropping it.", pr.Name),
				Priority:   "low",
			})
		}
		if pr.Kind == KindCategorical && pr.Distinct == cs.present && cs.present == rows && rows > 1 {
			out = append(out, api.Improvement{
				Column:     pr.Name,
				Issue:      "unique per row",
				Suggestion: fmt.Sprintf("%q looks like an identifier; index it instead of analysing it.", pr.Name),
				Priority:   "low",
			})
		}
	}
	return out
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOrUnknown(f string) string {
	if f == "" {
		return "unknown format"
	}
	return f
}
