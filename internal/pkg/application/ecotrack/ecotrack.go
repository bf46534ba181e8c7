package ecotrack

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/ecotrack/internal/pkg/application/events"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/pkg/types"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ecotrack/service")

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInactiveUser       = errors.New("inactive user")
	ErrZoneInUse          = errors.New("zone still has indicators")
	ErrSourceInUse        = errors.New("source still has indicators")
	ErrInvalidInput       = errors.New("invalid input")
)

//go:generate moq -rm -out ecotrack_mock.go . EcoTrack

type EcoTrack interface {
	Register(ctx context.Context, u types.UserCreate) (types.User, error)
	Authenticate(ctx context.Context, username, password string) (types.User, error)
	EnsureAdmin(ctx context.Context, username, email, password string) error
	GetUser(ctx context.Context, id int) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	ListUsers(ctx context.Context, params map[string][]string) ([]types.User, error)
	UpdateUser(ctx context.Context, id int, u types.UserUpdate) (types.User, error)
	DeleteUser(ctx context.Context, id int) error

	QueryZones(ctx context.Context, params map[string][]string) (types.Envelope[types.Zone], error)
	GetZone(ctx context.Context, id int) (types.Zone, error)
	CreateZone(ctx context.Context, z types.ZoneCreate) (types.Zone, error)
	UpdateZone(ctx context.Context, id int, z types.ZoneUpdate) (types.Zone, error)
	DeleteZone(ctx context.Context, id int) error
	GetOrCreateZone(ctx context.Context, z types.ZoneCreate) (types.Zone, error)

	QuerySources(ctx context.Context, params map[string][]string) (types.Envelope[types.Source], error)
	GetSource(ctx context.Context, id int) (types.Source, error)
	CreateSource(ctx context.Context, s types.SourceCreate) (types.Source, error)
	UpdateSource(ctx context.Context, id int, s types.SourceUpdate) (types.Source, error)
	DeleteSource(ctx context.Context, id int) error
	GetOrCreateSource(ctx context.Context, s types.SourceCreate) (types.Source, error)

	QueryIndicators(ctx context.Context, params map[string][]string) (types.Envelope[types.Indicator], error)
	GetIndicator(ctx context.Context, id int) (types.Indicator, error)
	CreateIndicator(ctx context.Context, i types.IndicatorCreate) (types.Indicator, error)
	UpdateIndicator(ctx context.Context, id int, i types.IndicatorUpdate) (types.Indicator, error)
	DeleteIndicator(ctx context.Context, id int) error
	IndicatorExists(ctx context.Context, i types.IndicatorCreate) (bool, error)

	Summary(ctx context.Context, params map[string][]string) ([]types.SummaryStat, error)
	CO2Trend(ctx context.Context, period types.TrendPeriod, params map[string][]string) (types.Series, error)
	AirAverages(ctx context.Context, params map[string][]string) (types.Series, error)
}

type app struct {
	store     database.Datastore
	publisher events.Publisher
}

func New(s database.Datastore, p events.Publisher) EcoTrack {
	if p == nil {
		p = events.Publishers{}
	}

	return &app{
		store:     s,
		publisher: p,
	}
}

// mapErr translates storage errors into the errors of this package.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, database.ErrZoneInUse):
		return ErrZoneInUse
	case errors.Is(err, database.ErrSourceInUse):
		return ErrSourceInUse
	default:
		return err
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
