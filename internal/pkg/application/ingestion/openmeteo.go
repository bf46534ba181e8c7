package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/geo"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/metrics"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ecotrack/ingestion")

// Store is the part of the application ingestion writes through.
type Store interface {
	GetOrCreateZone(ctx context.Context, z types.ZoneCreate) (types.Zone, error)
	GetOrCreateSource(ctx context.Context, s types.SourceCreate) (types.Source, error)
	CreateIndicator(ctx context.Context, i types.IndicatorCreate) (types.Indicator, error)
	IndicatorExists(ctx context.Context, i types.IndicatorCreate) (bool, error)
}

type archiveResponse struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	Hourly           struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		Humidity      []*float64 `json:"relative_humidity_2m"`
		Precipitation []*float64 `json:"precipitation"`
		WindSpeed     []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

var openMeteoSource = types.SourceCreate{
	Name:        "Open-Meteo",
	URL:         lo.ToPtr("https://open-meteo.com"),
	Description: lo.ToPtr("Free weather API with historical data from 1940 onwards"),
	Frequency:   lo.ToPtr("hourly"),
	Limitations: lo.ToPtr("No API key required, fair use policy applies"),
}

type OpenMeteo struct {
	cfg        OpenMeteoConfig
	store      Store
	httpClient http.Client
	now        func() time.Time
}

func NewOpenMeteo(cfg OpenMeteoConfig, store Store) *OpenMeteo {
	return &OpenMeteo{
		cfg:   cfg,
		store: store,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		now: time.Now,
	}
}

// Run ingests the configured window for every location. A failing location is
// logged and does not stop the others. The number of new indicators is returned.
func (o *OpenMeteo) Run(ctx context.Context) (count int, err error) {
	ctx, span := tracer.Start(ctx, "openmeteo-ingestion")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	source, err := o.store.GetOrCreateSource(ctx, openMeteoSource)
	if err != nil {
		return 0, fmt.Errorf("failed to get or create source: %w", err)
	}

	end := o.now()
	start := end.AddDate(0, 0, -o.cfg.DaysBack)

	for _, loc := range o.cfg.Locations {
		n, err := o.ingestLocation(ctx, source, loc, start, end)
		if err != nil {
			log.Error().Err(err).Str("location", loc.Name).Msg("ingestion failed")
			continue
		}

		log.Info().Str("location", loc.Name).Int("count", n).Msg("ingested weather indicators")
		count += n
	}

	metrics.Ingested(openMeteoSource.Name, count)

	return count, nil
}

func (o *OpenMeteo) ingestLocation(ctx context.Context, source types.Source, loc Location, start, end time.Time) (int, error) {
	geom := geo.Coordinates{Lat: loc.Latitude, Lon: loc.Longitude}.String()

	zone, err := o.store.GetOrCreateZone(ctx, types.ZoneCreate{Name: loc.Name, Geom: &geom})
	if err != nil {
		return 0, err
	}

	data, err := o.fetch(ctx, loc, start, end)
	if err != nil {
		return 0, err
	}

	tz := time.FixedZone(o.cfg.Timezone, data.UTCOffsetSeconds)
	hourly := data.Hourly
	count := 0

	for i, ts := range hourly.Time {
		timestamp, err := time.ParseInLocation("2006-01-02T15:04", ts, tz)
		if err != nil {
			log := logging.GetFromContext(ctx)
			log.Warn().Str("time", ts).Msg("skipping unparseable timestamp")
			continue
		}

		if v := at(hourly.Temperature, i); v != nil {
			created, err := createIfMissing(ctx, o.store, types.IndicatorCreate{
				Type: types.Temperature, Value: *v, Unit: "°C", Timestamp: timestamp,
				ZoneID: zone.ID, SourceID: source.ID,
				ExtraData: map[string]any{"parameter": "temperature_2m"},
			})
			if err != nil {
				return count, err
			}
			count += created
		}

		if v := at(hourly.Precipitation, i); v != nil && *v > 0 {
			created, err := createIfMissing(ctx, o.store, types.IndicatorCreate{
				Type: types.Precipitation, Value: *v, Unit: "mm", Timestamp: timestamp,
				ZoneID: zone.ID, SourceID: source.ID,
				ExtraData: map[string]any{"parameter": "precipitation"},
			})
			if err != nil {
				return count, err
			}
			count += created
		}
	}

	return count, nil
}

// createIfMissing creates the indicator unless an identical observation exists.
func createIfMissing(ctx context.Context, store Store, ic types.IndicatorCreate) (int, error) {
	exists, err := store.IndicatorExists(ctx, ic)
	if err != nil || exists {
		return 0, err
	}

	if _, err := store.CreateIndicator(ctx, ic); err != nil {
		return 0, err
	}

	return 1, nil
}

func (o *OpenMeteo) fetch(ctx context.Context, loc Location, start, end time.Time) (*archiveResponse, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(loc.Latitude))
	params.Set("longitude", formatCoord(loc.Longitude))
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("hourly", "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m")
	params.Set("timezone", o.cfg.Timezone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.ArchiveURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive request failed with status code %d", resp.StatusCode)
	}

	data := &archiveResponse{}
	if err := json.NewDecoder(resp.Body).Decode(data); err != nil {
		return nil, fmt.Errorf("failed to decode archive response: %w", err)
	}

	return data, nil
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
