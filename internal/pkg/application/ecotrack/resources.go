package ecotrack

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/events"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/types"
)

func (a *app) QueryZones(ctx context.Context, params map[string][]string) (types.Envelope[types.Zone], error) {
	result, err := a.store.QueryZones(ctx, database.ParseConditions(ctx, params)...)
	if err != nil {
		return types.Envelope[types.Zone]{}, err
	}
	return toEnvelope(result, toZone), nil
}

func (a *app) GetZone(ctx context.Context, id int) (types.Zone, error) {
	z, err := a.store.GetZone(ctx, id)
	if err != nil {
		return types.Zone{}, mapErr(err)
	}
	return toZone(z), nil
}

func (a *app) CreateZone(ctx context.Context, zc types.ZoneCreate) (types.Zone, error) {
	if strings.TrimSpace(zc.Name) == "" {
		return types.Zone{}, invalid("zone name is required")
	}

	z := &database.Zone{
		Name:       strings.TrimSpace(zc.Name),
		PostalCode: zc.PostalCode,
		Geom:       zc.Geom,
	}

	if err := a.store.CreateZone(ctx, z); err != nil {
		return types.Zone{}, mapErr(err)
	}

	return toZone(*z), nil
}

func (a *app) UpdateZone(ctx context.Context, id int, zu types.ZoneUpdate) (types.Zone, error) {
	z, err := a.store.GetZone(ctx, id)
	if err != nil {
		return types.Zone{}, mapErr(err)
	}

	if zu.Name != nil {
		if strings.TrimSpace(*zu.Name) == "" {
			return types.Zone{}, invalid("zone name is required")
		}
		z.Name = strings.TrimSpace(*zu.Name)
	}
	if zu.PostalCode != nil {
		z.PostalCode = zu.PostalCode
	}
	if zu.Geom != nil {
		z.Geom = zu.Geom
	}

	if err := a.store.SaveZone(ctx, &z); err != nil {
		return types.Zone{}, mapErr(err)
	}

	return toZone(z), nil
}

func (a *app) DeleteZone(ctx context.Context, id int) error {
	return mapErr(a.store.DeleteZone(ctx, id))
}

// GetOrCreateZone looks a zone up by name and creates it when missing.
func (a *app) GetOrCreateZone(ctx context.Context, zc types.ZoneCreate) (types.Zone, error) {
	result, err := a.store.QueryZones(ctx, database.WithName(zc.Name), database.WithLimit(1))
	if err != nil {
		return types.Zone{}, err
	}

	if len(result.Data) > 0 {
		return toZone(result.Data[0]), nil
	}

	return a.CreateZone(ctx, zc)
}

func (a *app) QuerySources(ctx context.Context, params map[string][]string) (types.Envelope[types.Source], error) {
	result, err := a.store.QuerySources(ctx, database.ParseConditions(ctx, params)...)
	if err != nil {
		return types.Envelope[types.Source]{}, err
	}
	return toEnvelope(result, toSource), nil
}

func (a *app) GetSource(ctx context.Context, id int) (types.Source, error) {
	s, err := a.store.GetSource(ctx, id)
	if err != nil {
		return types.Source{}, mapErr(err)
	}
	return toSource(s), nil
}

func (a *app) CreateSource(ctx context.Context, sc types.SourceCreate) (types.Source, error) {
	if strings.TrimSpace(sc.Name) == "" {
		return types.Source{}, invalid("source name is required")
	}

	s := &database.Source{
		Name:        strings.TrimSpace(sc.Name),
		URL:         sc.URL,
		Description: sc.Description,
		Frequency:   sc.Frequency,
		Limitations: sc.Limitations,
	}

	if err := a.store.CreateSource(ctx, s); err != nil {
		return types.Source{}, mapErr(err)
	}

	return toSource(*s), nil
}

func (a *app) UpdateSource(ctx context.Context, id int, su types.SourceUpdate) (types.Source, error) {
	s, err := a.store.GetSource(ctx, id)
	if err != nil {
		return types.Source{}, mapErr(err)
	}

	if su.Name != nil {
		if strings.TrimSpace(*su.Name) == "" {
			return types.Source{}, invalid("source name is required")
		}
		s.Name = strings.TrimSpace(*su.Name)
	}
	if su.URL != nil {
		s.URL = su.URL
	}
	if su.Description != nil {
		s.Description = su.Description
	}
	if su.Frequency != nil {
		s.Frequency = su.Frequency
	}
	if su.Limitations != nil {
		s.Limitations = su.Limitations
	}

	if err := a.store.SaveSource(ctx, &s); err != nil {
		return types.Source{}, mapErr(err)
	}

	return toSource(s), nil
}

func (a *app) DeleteSource(ctx context.Context, id int) error {
	return mapErr(a.store.DeleteSource(ctx, id))
}

func (a *app) GetOrCreateSource(ctx context.Context, sc types.SourceCreate) (types.Source, error) {
	result, err := a.store.QuerySources(ctx, database.WithName(sc.Name), database.WithLimit(1))
	if err != nil {
		return types.Source{}, err
	}

	if len(result.Data) > 0 {
		return toSource(result.Data[0]), nil
	}

	s, err := a.CreateSource(ctx, sc)
	if errors.Is(err, ErrAlreadyExists) {
		// created concurrently
		return a.GetOrCreateSource(ctx, sc)
	}

	return s, err
}

func (a *app) QueryIndicators(ctx context.Context, params map[string][]string) (types.Envelope[types.Indicator], error) {
	result, err := a.store.QueryIndicators(ctx, database.ParseConditions(ctx, params)...)
	if err != nil {
		return types.Envelope[types.Indicator]{}, err
	}
	return toEnvelope(result, toIndicator), nil
}

func (a *app) GetIndicator(ctx context.Context, id int) (types.Indicator, error) {
	i, err := a.store.GetIndicator(ctx, id)
	if err != nil {
		return types.Indicator{}, mapErr(err)
	}
	return toIndicator(i), nil
}

// validateReferences makes sure the zone and source an indicator points at exist.
func (a *app) validateReferences(ctx context.Context, zoneID, sourceID int) error {
	if _, err := a.store.GetZone(ctx, zoneID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return invalid("zone %d does not exist", zoneID)
		}
		return err
	}
	if _, err := a.store.GetSource(ctx, sourceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return invalid("source %d does not exist", sourceID)
		}
		return err
	}
	return nil
}

func (a *app) CreateIndicator(ctx context.Context, ic types.IndicatorCreate) (indicator types.Indicator, err error) {
	ctx, span := tracer.Start(ctx, "create-indicator")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if !ic.Type.Valid() {
		return types.Indicator{}, invalid("unknown indicator type %q", ic.Type)
	}
	if ic.Timestamp.IsZero() {
		ic.Timestamp = time.Now().UTC()
	}

	if err = a.validateReferences(ctx, ic.ZoneID, ic.SourceID); err != nil {
		return types.Indicator{}, err
	}

	i := &database.Indicator{
		Type:      string(ic.Type),
		Value:     ic.Value,
		Unit:      ic.Unit,
		Timestamp: ic.Timestamp.UTC(),
		ZoneID:    ic.ZoneID,
		SourceID:  ic.SourceID,
		ExtraData: ic.ExtraData,
	}

	if err = a.store.CreateIndicator(ctx, i); err != nil {
		return types.Indicator{}, mapErr(err)
	}

	indicator = toIndicator(*i)
	a.publish(ctx, events.IndicatorCreated, indicator)

	return indicator, nil
}

func (a *app) UpdateIndicator(ctx context.Context, id int, iu types.IndicatorUpdate) (indicator types.Indicator, err error) {
	ctx, span := tracer.Start(ctx, "update-indicator")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	i, err := a.store.GetIndicator(ctx, id)
	if err != nil {
		return types.Indicator{}, mapErr(err)
	}

	if iu.Type != nil {
		if !iu.Type.Valid() {
			return types.Indicator{}, invalid("unknown indicator type %q", *iu.Type)
		}
		i.Type = string(*iu.Type)
	}
	if iu.Value != nil {
		i.Value = *iu.Value
	}
	if iu.Unit != nil {
		i.Unit = *iu.Unit
	}
	if iu.Timestamp != nil {
		i.Timestamp = iu.Timestamp.UTC()
	}
	if iu.ZoneID != nil {
		i.ZoneID = *iu.ZoneID
	}
	if iu.SourceID != nil {
		i.SourceID = *iu.SourceID
	}
	if iu.ExtraData != nil {
		i.ExtraData = iu.ExtraData
	}

	if iu.ZoneID != nil || iu.SourceID != nil {
		if err = a.validateReferences(ctx, i.ZoneID, i.SourceID); err != nil {
			return types.Indicator{}, err
		}
	}

	if err = a.store.SaveIndicator(ctx, &i); err != nil {
		return types.Indicator{}, mapErr(err)
	}

	indicator = toIndicator(i)
	a.publish(ctx, events.IndicatorUpdated, indicator)

	return indicator, nil
}

func (a *app) DeleteIndicator(ctx context.Context, id int) (err error) {
	ctx, span := tracer.Start(ctx, "delete-indicator")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	i, err := a.store.GetIndicator(ctx, id)
	if err != nil {
		return mapErr(err)
	}

	if err = a.store.DeleteIndicator(ctx, id); err != nil {
		return mapErr(err)
	}

	a.publish(ctx, events.IndicatorDeleted, toIndicator(i))

	return nil
}

func (a *app) IndicatorExists(ctx context.Context, ic types.IndicatorCreate) (bool, error) {
	parameter, _ := ic.ExtraData["parameter"].(string)
	return a.store.IndicatorExists(ctx, ic.ZoneID, ic.SourceID, string(ic.Type), parameter, ic.Timestamp.UTC())
}

// publish failures are logged, the mutation itself has already succeeded.
func (a *app) publish(ctx context.Context, action string, i types.Indicator) {
	err := a.publisher.Publish(ctx, events.IndicatorEvent{
		Action:    action,
		Indicator: i,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Int("indicator", i.ID).Str("action", action).Msg("failed to publish indicator event")
	}
}
