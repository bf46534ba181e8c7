package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/metrics"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/mqtt"
	"github.com/diwise/ecotrack/pkg/types"
)

const DefaultTelemetrySource = "MQTT"

var ErrInvalidTelemetry = errors.New("invalid telemetry")

// Telemetry is a single measurement published by a sensor gateway.
type Telemetry struct {
	Zone      string              `json:"zone"`
	Type      types.IndicatorType `json:"type"`
	Value     *float64            `json:"value"`
	Unit      string              `json:"unit"`
	Timestamp time.Time           `json:"timestamp"`
	Source    string              `json:"source"`
	Geom      *string             `json:"geom,omitempty"`
	ExtraData map[string]any      `json:"extra_data,omitempty"`
}

func (t Telemetry) Validate() error {
	if strings.TrimSpace(t.Zone) == "" {
		return fmt.Errorf("%w: zone is required", ErrInvalidTelemetry)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTelemetry, t.Type)
	}
	if t.Value == nil {
		return fmt.Errorf("%w: value is required", ErrInvalidTelemetry)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTelemetry)
	}
	return nil
}

// NewTelemetryHandler stores every valid telemetry message as an indicator.
// Malformed messages are logged and dropped.
func NewTelemetryHandler(store Store) mqtt.MessageHandler {
	return func(ctx context.Context, topic string, payload []byte) error {
		log := logging.GetFromContext(ctx)

		t := Telemetry{}
		if err := json.Unmarshal(payload, &t); err != nil {
			log.Warn().Err(err).Str("message_topic", topic).Msg("failed to parse telemetry message")
			return nil
		}

		if err := t.Validate(); err != nil {
			log.Warn().Err(err).Str("message_topic", topic).Msg("invalid telemetry message")
			return nil
		}

		return storeTelemetry(ctx, store, t)
	}
}

func storeTelemetry(ctx context.Context, store Store, t Telemetry) error {
	sourceName := t.Source
	if sourceName == "" {
		sourceName = DefaultTelemetrySource
	}

	source, err := store.GetOrCreateSource(ctx, types.SourceCreate{Name: sourceName})
	if err != nil {
		return err
	}

	zone, err := store.GetOrCreateZone(ctx, types.ZoneCreate{Name: t.Zone, Geom: t.Geom})
	if err != nil {
		return err
	}

	ic := types.IndicatorCreate{
		Type:      t.Type,
		Value:     *t.Value,
		Unit:      t.Unit,
		Timestamp: t.Timestamp.UTC(),
		ZoneID:    zone.ID,
		SourceID:  source.ID,
		ExtraData: t.ExtraData,
	}

	exists, err := store.IndicatorExists(ctx, ic)
	if err != nil || exists {
		return err
	}

	if _, err = store.CreateIndicator(ctx, ic); err != nil {
		return err
	}

	metrics.Ingested(sourceName, 1)
	return nil
}
