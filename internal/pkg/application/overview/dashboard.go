package overview

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/schedule"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	RefreshInterval = 30 * time.Second
	TrendPoints     = 30
	RecentCount     = 10
	ZoneLimit       = 1000
)

type API interface {
	Summary(ctx context.Context, params url.Values) ([]types.SummaryStat, error)
	ListZones(ctx context.Context, params url.Values) (types.Envelope[types.Zone], error)
	ListIndicators(ctx context.Context, params url.Values) (types.Envelope[types.Indicator], error)
	CO2Trend(ctx context.Context, period types.TrendPeriod, params url.Values) (types.Series, error)
	AirAverages(ctx context.Context, params url.Values) (types.Series, error)
}

type StatCard struct {
	Type    types.IndicatorType
	Title   string
	Unit    string
	Count   int64
	Average float64
	Min     float64
	Max     float64
}

type Slice struct {
	Name    string
	Count   int64
	Average float64
}

type Range struct {
	Min float64
	Max float64
}

type Dashboard struct {
	Cards        []StatCard
	Total        int64
	Range        Range
	Distribution []Slice
	CO2Trend     []types.Point
	AirByZone    []types.Point
	Zones        []types.Zone
	Recent       []types.Indicator
	UpdatedAt    time.Time
}

var cardTemplates = []StatCard{
	{Type: types.AirQuality, Title: "Air Quality (PM2.5)", Unit: "µg/m³"},
	{Type: types.CO2, Title: "CO2 Emissions", Unit: "kg"},
	{Type: types.Energy, Title: "Energy Usage", Unit: "kWh"},
	{Type: types.Temperature, Title: "Temperature", Unit: "°C"},
	{Type: types.Precipitation, Title: "Precipitation", Unit: "mm"},
}

// LoadDashboard fetches every part of the dashboard in parallel. The
// dashboard is only returned when all requests succeed.
func LoadDashboard(ctx context.Context, api API) (Dashboard, error) {
	var (
		summary []types.SummaryStat
		zones   types.Envelope[types.Zone]
		trend   types.Series
		air     types.Series
		recent  types.Envelope[types.Indicator]
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		summary, err = api.Summary(ctx, nil)
		return wrap("summary", err)
	})
	g.Go(func() (err error) {
		zones, err = api.ListZones(ctx, url.Values{"limit": {strconv.Itoa(ZoneLimit)}})
		return wrap("zones", err)
	})
	g.Go(func() (err error) {
		trend, err = api.CO2Trend(ctx, types.Daily, nil)
		return wrap("co2 trend", err)
	})
	g.Go(func() (err error) {
		air, err = api.AirAverages(ctx, nil)
		return wrap("air averages", err)
	})
	g.Go(func() (err error) {
		recent, err = api.ListIndicators(ctx, url.Values{
			"limit":   {strconv.Itoa(RecentCount)},
			"sort_by": {"timestamp"},
			"order":   {"desc"},
		})
		return wrap("recent indicators", err)
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	return NewDashboard(summary, zones.Items, trend, air, recent.Items), nil
}

func NewDashboard(summary []types.SummaryStat, zones []types.Zone, trend, air types.Series, recent []types.Indicator) Dashboard {
	byType := lo.KeyBy(summary, func(s types.SummaryStat) types.IndicatorType { return s.Type })

	cards := lo.Map(cardTemplates, func(c StatCard, _ int) StatCard {
		if s, ok := byType[c.Type]; ok {
			c.Count, c.Average, c.Min, c.Max = s.Count, s.Average, s.Min, s.Max
		}
		return c
	})

	d := Dashboard{
		Cards: cards,
		Total: lo.SumBy(summary, func(s types.SummaryStat) int64 { return s.Count }),
		Distribution: lo.Map(summary, func(s types.SummaryStat, _ int) Slice {
			return Slice{Name: DisplayName(s.Type), Count: s.Count, Average: s.Average}
		}),
		CO2Trend:  lastN(trend.Points(), TrendPoints),
		AirByZone: air.Points(),
		Zones:     zones,
		Recent:    recent[:min(len(recent), RecentCount)],
		UpdatedAt: time.Now().UTC(),
	}

	if len(summary) > 0 {
		d.Range = Range{
			Min: lo.Min(lo.Map(summary, func(s types.SummaryStat, _ int) float64 { return s.Min })),
			Max: lo.Max(lo.Map(summary, func(s types.SummaryStat, _ int) float64 { return s.Max })),
		}
	}

	return d
}

// Watch loads the dashboard immediately and then every interval. On failure
// onUpdate receives the last successfully loaded dashboard with the error.
func Watch(ctx context.Context, api API, interval time.Duration, onUpdate func(Dashboard, error)) *schedule.Task {
	var last Dashboard

	return schedule.Start(ctx, interval, func(ctx context.Context) {
		d, err := LoadDashboard(ctx, api)
		if err == nil {
			last = d
		}
		onUpdate(last, err)
	})
}

// DisplayName turns an indicator type into a label, e.g. air_quality into AIR QUALITY.
func DisplayName(t types.IndicatorType) string {
	return strings.ToUpper(strings.Replace(string(t), "_", " ", 1))
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", what, err)
	}
	return nil
}
