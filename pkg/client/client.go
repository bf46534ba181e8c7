package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("ecotrack-client")

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoToken      = errors.New("no access token")
)

// APIError is returned for every non 2xx response. Detail holds the message
// the server provided, if any.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed with status code %d", e.StatusCode)
	}
	return e.Detail
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

type Option func(*EcoTrackClient)

// WithTokenSource attaches the bearer token of ts to every authenticated request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *EcoTrackClient) {
		c.authed.Transport = &oauth2.Transport{
			Source: ts,
			Base:   c.anon.Transport,
		}
	}
}

// WithOnUnauthorized registers a hook invoked whenever a request is rejected
// with 401 or no token is available.
func WithOnUnauthorized(f func()) Option {
	return func(c *EcoTrackClient) {
		c.onUnauthorized = f
	}
}

type EcoTrackClient struct {
	url            string
	anon           http.Client
	authed         http.Client
	onUnauthorized func()
}

func New(baseURL string, opts ...Option) *EcoTrackClient {
	transport := otelhttp.NewTransport(http.DefaultTransport)

	c := &EcoTrackClient{
		url:    strings.TrimSuffix(baseURL, "/"),
		anon:   http.Client{Transport: transport},
		authed: http.Client{Transport: transport},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *EcoTrackClient) URL() string {
	return c.url
}

func (c *EcoTrackClient) Login(ctx context.Context, username, password string) (token types.Token, err error) {
	ctx, span := tracer.Start(ctx, "login")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	form := url.Values{"username": {username}, "password": {password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return types.Token{}, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(&c.anon, req, false)
	if err != nil {
		return types.Token{}, err
	}

	err = json.Unmarshal(body, &token)
	return token, err
}

func (c *EcoTrackClient) Register(ctx context.Context, u types.UserCreate) (types.User, error) {
	return send[types.User](ctx, c, &c.anon, http.MethodPost, "/auth/register", u)
}

func (c *EcoTrackClient) Me(ctx context.Context) (types.User, error) {
	return get[types.User](ctx, c, "/users/me", nil)
}

func (c *EcoTrackClient) ListUsers(ctx context.Context, params url.Values) (types.Envelope[types.User], error) {
	return list[types.User](ctx, c, "/users/", params)
}

func (c *EcoTrackClient) UpdateUser(ctx context.Context, id int, u types.UserUpdate) (types.User, error) {
	return send[types.User](ctx, c, &c.authed, http.MethodPut, "/users/"+strconv.Itoa(id), u)
}

func (c *EcoTrackClient) DeleteUser(ctx context.Context, id int) error {
	return c.delete(ctx, "/users/"+strconv.Itoa(id))
}

func (c *EcoTrackClient) ListZones(ctx context.Context, params url.Values) (types.Envelope[types.Zone], error) {
	return list[types.Zone](ctx, c, "/zones/", params)
}

func (c *EcoTrackClient) GetZone(ctx context.Context, id int) (types.Zone, error) {
	return get[types.Zone](ctx, c, "/zones/"+strconv.Itoa(id), nil)
}

func (c *EcoTrackClient) CreateZone(ctx context.Context, z types.ZoneCreate) (types.Zone, error) {
	return send[types.Zone](ctx, c, &c.authed, http.MethodPost, "/zones/", z)
}

func (c *EcoTrackClient) UpdateZone(ctx context.Context, id int, z types.ZoneUpdate) (types.Zone, error) {
	return send[types.Zone](ctx, c, &c.authed, http.MethodPut, "/zones/"+strconv.Itoa(id), z)
}

func (c *EcoTrackClient) DeleteZone(ctx context.Context, id int) error {
	return c.delete(ctx, "/zones/"+strconv.Itoa(id))
}

func (c *EcoTrackClient) ListIndicators(ctx context.Context, params url.Values) (types.Envelope[types.Indicator], error) {
	return list[types.Indicator](ctx, c, "/indicators/", params)
}

func (c *EcoTrackClient) GetIndicator(ctx context.Context, id int) (types.Indicator, error) {
	return get[types.Indicator](ctx, c, "/indicators/"+strconv.Itoa(id), nil)
}

func (c *EcoTrackClient) CreateIndicator(ctx context.Context, i types.IndicatorCreate) (types.Indicator, error) {
	return send[types.Indicator](ctx, c, &c.authed, http.MethodPost, "/indicators/", i)
}

func (c *EcoTrackClient) UpdateIndicator(ctx context.Context, id int, i types.IndicatorUpdate) (types.Indicator, error) {
	return send[types.Indicator](ctx, c, &c.authed, http.MethodPut, "/indicators/"+strconv.Itoa(id), i)
}

func (c *EcoTrackClient) DeleteIndicator(ctx context.Context, id int) error {
	return c.delete(ctx, "/indicators/"+strconv.Itoa(id))
}

func (c *EcoTrackClient) ListSources(ctx context.Context, params url.Values) (types.Envelope[types.Source], error) {
	return list[types.Source](ctx, c, "/sources/", params)
}

func (c *EcoTrackClient) CreateSource(ctx context.Context, s types.SourceCreate) (types.Source, error) {
	return send[types.Source](ctx, c, &c.authed, http.MethodPost, "/sources/", s)
}

func (c *EcoTrackClient) UpdateSource(ctx context.Context, id int, s types.SourceUpdate) (types.Source, error) {
	return send[types.Source](ctx, c, &c.authed, http.MethodPut, "/sources/"+strconv.Itoa(id), s)
}

func (c *EcoTrackClient) DeleteSource(ctx context.Context, id int) error {
	return c.delete(ctx, "/sources/"+strconv.Itoa(id))
}

func (c *EcoTrackClient) Summary(ctx context.Context, params url.Values) ([]types.SummaryStat, error) {
	return get[[]types.SummaryStat](ctx, c, "/stats/summary", params)
}

func (c *EcoTrackClient) CO2Trend(ctx context.Context, period types.TrendPeriod, params url.Values) (types.Series, error) {
	p := url.Values{}
	for k, v := range params {
		p[k] = v
	}
	if period != "" {
		p.Set("period", string(period))
	}
	return get[types.Series](ctx, c, "/stats/co2/trend", p)
}

func (c *EcoTrackClient) AirAverages(ctx context.Context, params url.Values) (types.Series, error) {
	return get[types.Series](ctx, c, "/stats/air/averages", params)
}

// DecodeCollection accepts either a paginated envelope or a bare JSON array.
// A bare array becomes an envelope holding every item with no neighbouring pages.
func DecodeCollection[T any](b []byte) (types.Envelope[T], error) {
	trimmed := bytes.TrimSpace(b)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		items := []T{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return types.Envelope[T]{}, fmt.Errorf("failed to unmarshal collection: %w", err)
		}
		return types.FromSlice(items), nil
	}

	env := types.Envelope[T]{}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return types.Envelope[T]{}, fmt.Errorf("failed to unmarshal collection: %w", err)
	}
	if env.Items == nil {
		env.Items = []T{}
	}

	return env, nil
}

func list[T any](ctx context.Context, c *EcoTrackClient, path string, params url.Values) (env types.Envelope[T], err error) {
	ctx, span := tracer.Start(ctx, "list "+path)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := c.getRaw(ctx, path, params)
	if err != nil {
		return types.Envelope[T]{}, err
	}

	return DecodeCollection[T](body)
}

func get[T any](ctx context.Context, c *EcoTrackClient, path string, params url.Values) (result T, err error) {
	ctx, span := tracer.Start(ctx, "get "+path)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := c.getRaw(ctx, path, params)
	if err != nil {
		return result, err
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return result, err
}

func send[T any](ctx context.Context, c *EcoTrackClient, httpClient *http.Client, method, path string, payload any) (result T, err error) {
	ctx, span := tracer.Start(ctx, strings.ToLower(method)+" "+path)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	b, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, bytes.NewReader(b))
	if err != nil {
		return result, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpClient, req, httpClient == &c.authed)
	if err != nil {
		return result, err
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return result, err
}

func (c *EcoTrackClient) delete(ctx context.Context, path string) (err error) {
	ctx, span := tracer.Start(ctx, "delete "+path)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	_, err = c.do(&c.authed, req, true)
	return err
}

func (c *EcoTrackClient) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.url + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(&c.authed, req, true)
}

func (c *EcoTrackClient) do(httpClient *http.Client, req *http.Request, authenticated bool) ([]byte, error) {
	log := logging.GetFromContext(req.Context())

	resp, err := httpClient.Do(req)
	if err != nil {
		if authenticated && errors.Is(err, ErrNoToken) {
			c.unauthorized()
			return nil, &APIError{StatusCode: http.StatusUnauthorized, Detail: "Not authenticated"}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}

		detail := types.ErrorResponse{}
		if json.Unmarshal(body, &detail) == nil {
			apiErr.Detail = detail.Detail
		}

		log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("request failed")

		if resp.StatusCode == http.StatusUnauthorized && authenticated {
			c.unauthorized()
		}

		return nil, apiErr
	}

	return body, nil
}

func (c *EcoTrackClient) unauthorized() {
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}
