package overview

import (
	"context"
	"net/url"
	"strconv"

	"github.com/diwise/ecotrack/internal/pkg/application/geo"
	"github.com/diwise/ecotrack/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	ColorNoData   = "#9ca3af"
	ColorGood     = "#10b981"
	ColorModerate = "#f59e0b"
	ColorBad      = "#ef4444"
	ColorDefault  = "#3b82f6"
)

const MapIndicatorLimit = 1000

type ZoneStats struct {
	Total   int
	Latest  map[types.IndicatorType]types.Indicator
	Average float64
}

type Marker struct {
	Zone     types.Zone
	Position geo.Coordinates
	Stats    ZoneStats
	Color    string
}

type Map struct {
	Center  geo.Coordinates
	Markers []Marker
	Stats   map[int]ZoneStats
	// Excluded holds zones without usable coordinates.
	Excluded []types.Zone
}

// LoadMap fetches zones and the most recent indicators, optionally limited
// to one indicator type, and builds the map view.
func LoadMap(ctx context.Context, api API, indicatorType types.IndicatorType) (Map, error) {
	var (
		zones      types.Envelope[types.Zone]
		indicators types.Envelope[types.Indicator]
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		zones, err = api.ListZones(ctx, url.Values{"limit": {strconv.Itoa(ZoneLimit)}})
		return wrap("zones", err)
	})
	g.Go(func() (err error) {
		params := url.Values{
			"limit":   {strconv.Itoa(MapIndicatorLimit)},
			"sort_by": {"timestamp"},
			"order":   {"desc"},
		}
		if indicatorType != "" {
			params.Set("type", string(indicatorType))
		}
		indicators, err = api.ListIndicators(ctx, params)
		return wrap("indicators", err)
	})

	if err := g.Wait(); err != nil {
		return Map{}, err
	}

	return NewMap(zones.Items, indicators.Items), nil
}

func NewMap(zones []types.Zone, indicators []types.Indicator) Map {
	m := Map{
		Center: geo.Paris,
		Stats:  make(map[int]ZoneStats, len(zones)),
	}

	byZone := map[int][]types.Indicator{}
	for _, i := range indicators {
		byZone[i.ZoneID] = append(byZone[i.ZoneID], i)
	}

	centered := false

	for _, z := range zones {
		stats := zoneStats(byZone[z.ID])
		m.Stats[z.ID] = stats

		if z.Geom == nil {
			m.Excluded = append(m.Excluded, z)
			continue
		}

		pos, ok := geo.ParseCoordinates(*z.Geom)
		if !ok {
			m.Excluded = append(m.Excluded, z)
			continue
		}

		if !centered {
			m.Center = pos
			centered = true
		}

		m.Markers = append(m.Markers, Marker{
			Zone:     z,
			Position: pos,
			Stats:    stats,
			Color:    ZoneColor(stats),
		})
	}

	return m
}

// ZoneColor classifies a zone by its latest air quality reading.
func ZoneColor(s ZoneStats) string {
	if s.Total == 0 {
		return ColorNoData
	}

	aq, ok := s.Latest[types.AirQuality]
	if !ok {
		return ColorDefault
	}

	switch {
	case aq.Value < 50:
		return ColorGood
	case aq.Value < 100:
		return ColorModerate
	default:
		return ColorBad
	}
}

func zoneStats(indicators []types.Indicator) ZoneStats {
	s := ZoneStats{
		Total:  len(indicators),
		Latest: map[types.IndicatorType]types.Indicator{},
	}

	sum := 0.0
	for _, i := range indicators {
		sum += i.Value
		if latest, ok := s.Latest[i.Type]; !ok || i.Timestamp.After(latest.Timestamp) {
			s.Latest[i.Type] = i
		}
	}

	if s.Total > 0 {
		s.Average = sum / float64(s.Total)
	}

	return s
}
