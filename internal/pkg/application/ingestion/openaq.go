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
)

type measurement struct {
	Parameter struct {
		Name string `json:"name"`
	} `json:"parameter"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
	Date  struct {
		UTC string `json:"utc"`
	} `json:"date"`
	Location struct {
		Name string `json:"name"`
	} `json:"location"`
	Coordinates map[string]any `json:"coordinates"`
}

type measurementsResponse struct {
	Results []measurement `json:"results"`
}

var openAQSource = types.SourceCreate{
	Name:        "OpenAQ",
	URL:         lo.ToPtr("https://openaq.org"),
	Description: lo.ToPtr("Global air quality data from government monitoring stations"),
	Frequency:   lo.ToPtr("hourly"),
	Limitations: lo.ToPtr("Requires API key, rate limited to 10 requests/second"),
}

// OpenAQ stores every pollutant measured near the configured locations as an
// air quality indicator.
type OpenAQ struct {
	cfg        OpenAQConfig
	store      Store
	httpClient http.Client
	now        func() time.Time
}

func NewOpenAQ(cfg OpenAQConfig, store Store) *OpenAQ {
	return &OpenAQ{
		cfg:   cfg,
		store: store,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		now: time.Now,
	}
}

// Run ingests the measurements of the last DaysBack days for every location.
// A failing location is logged and does not stop the others.
func (o *OpenAQ) Run(ctx context.Context) (count int, err error) {
	ctx, span := tracer.Start(ctx, "openaq-ingestion")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	if !o.cfg.Enabled() {
		return 0, fmt.Errorf("no openaq api key configured")
	}

	source, err := o.store.GetOrCreateSource(ctx, openAQSource)
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

		log.Info().Str("location", loc.Name).Int("count", n).Msg("ingested air quality indicators")
		count += n
	}

	metrics.Ingested(openAQSource.Name, count)

	return count, nil
}

func (o *OpenAQ) ingestLocation(ctx context.Context, source types.Source, loc Location, start, end time.Time) (int, error) {
	log := logging.GetFromContext(ctx)

	geom := geo.Coordinates{Lat: loc.Latitude, Lon: loc.Longitude}.String()

	zone, err := o.store.GetOrCreateZone(ctx, types.ZoneCreate{Name: loc.Name, Geom: &geom})
	if err != nil {
		return 0, err
	}

	data, err := o.fetch(ctx, geom, start, end)
	if err != nil {
		return 0, err
	}

	if len(data.Results) == 0 {
		log.Warn().Str("location", loc.Name).Msg("no measurements returned")
		return 0, nil
	}

	count := 0

	for _, m := range data.Results {
		if m.Value == nil || m.Unit == "" || m.Date.UTC == "" {
			continue
		}

		timestamp, err := time.Parse(time.RFC3339, m.Date.UTC)
		if err != nil {
			log.Warn().Str("time", m.Date.UTC).Msg("skipping unparseable timestamp")
			continue
		}

		created, err := createIfMissing(ctx, o.store, types.IndicatorCreate{
			Type: types.AirQuality, Value: *m.Value, Unit: m.Unit, Timestamp: timestamp.UTC(),
			ZoneID: zone.ID, SourceID: source.ID,
			ExtraData: m.extraData(),
		})
		if err != nil {
			return count, err
		}
		count += created
	}

	return count, nil
}

func (m measurement) extraData() map[string]any {
	parameter := m.Parameter.Name
	if parameter == "" {
		parameter = "unknown"
	}

	extra := map[string]any{"parameter": parameter}
	if m.Location.Name != "" {
		extra["location"] = m.Location.Name
	}
	if m.Coordinates != nil {
		extra["coordinates"] = m.Coordinates
	}

	return extra
}

func (o *OpenAQ) fetch(ctx context.Context, coordinates string, start, end time.Time) (*measurementsResponse, error) {
	params := url.Values{}
	params.Set("coordinates", coordinates)
	params.Set("radius", strconv.Itoa(o.cfg.Radius))
	params.Set("limit", strconv.Itoa(o.cfg.Limit))
	params.Set("date_from", start.UTC().Format(time.RFC3339))
	params.Set("date_to", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.URL+"/measurements?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("measurements request failed with status code %d", resp.StatusCode)
	}

	data := &measurementsResponse{}
	if err := json.NewDecoder(resp.Body).Decode(data); err != nil {
		return nil, fmt.Errorf("failed to decode measurements response: %w", err)
	}

	return data, nil
}
