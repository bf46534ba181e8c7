package ecotrack

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
)

func statConditions(ctx context.Context, params map[string][]string, indicatorType types.IndicatorType) []database.ConditionFunc {
	conditions := database.ParseConditions(ctx, params)
	if indicatorType != "" {
		conditions = append(conditions, database.WithType(string(indicatorType)))
	}
	return conditions
}

func (a *app) Summary(ctx context.Context, params map[string][]string) ([]types.SummaryStat, error) {
	result, err := a.store.Summary(ctx, statConditions(ctx, params, "")...)
	if err != nil {
		return nil, err
	}

	return lo.Map(result, func(s database.TypeSummary, _ int) types.SummaryStat {
		return types.SummaryStat{
			Type:    types.IndicatorType(s.Type),
			Count:   s.Count,
			Average: s.Average,
			Min:     s.Min,
			Max:     s.Max,
		}
	}), nil
}

// CO2Trend sums co2 values per period. Labels are ordered ascending.
func (a *app) CO2Trend(ctx context.Context, period types.TrendPeriod, params map[string][]string) (types.Series, error) {
	if period == "" {
		period = types.Monthly
	}

	label, err := periodLabel(period)
	if err != nil {
		return types.Series{}, err
	}

	observations, err := a.store.Observations(ctx, statConditions(ctx, params, types.CO2)...)
	if err != nil {
		return types.Series{}, err
	}

	series := types.Series{Labels: []string{}, Series: []float64{}}
	index := map[string]int{}

	for _, o := range observations {
		l := label(o.Timestamp.UTC())
		if i, ok := index[l]; ok {
			series.Series[i] += o.Value
			continue
		}
		index[l] = len(series.Labels)
		series.Labels = append(series.Labels, l)
		series.Series = append(series.Series, o.Value)
	}

	return series, nil
}

func periodLabel(period types.TrendPeriod) (func(time.Time) string, error) {
	switch period {
	case types.Daily:
		return func(t time.Time) string { return t.Format("2006-01-02") }, nil
	case types.Weekly:
		return func(t time.Time) string { return fmt.Sprintf("%d-%02d", t.Year(), weekOfYear(t)) }, nil
	case types.Monthly:
		return func(t time.Time) string { return t.Format("2006-01") }, nil
	default:
		return nil, invalid("unknown period %q", period)
	}
}

// weekOfYear numbers weeks starting on Monday. Days before the first Monday
// of the year belong to week 0.
func weekOfYear(t time.Time) int {
	yday := t.YearDay() - 1
	weekday := (int(t.Weekday()) + 6) % 7
	return (yday + 7 - weekday) / 7
}

func (a *app) AirAverages(ctx context.Context, params map[string][]string) (types.Series, error) {
	result, err := a.store.ZoneAverages(ctx, statConditions(ctx, params, types.AirQuality)...)
	if err != nil {
		return types.Series{}, err
	}

	return types.Series{
		Labels: lo.Map(result, func(z database.ZoneAverage, _ int) string { return z.ZoneName }),
		Series: lo.Map(result, func(z database.ZoneAverage, _ int) float64 { return z.Average }),
	}, nil
}
