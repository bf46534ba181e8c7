package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/messaging"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const (
	IndicatorCreated = "created"
	IndicatorUpdated = "updated"
	IndicatorDeleted = "deleted"
)

type IndicatorEvent struct {
	Action    string          `json:"action"`
	Indicator types.Indicator `json:"indicator"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e IndicatorEvent) ContentType() string {
	return cloudevents.ApplicationJSON
}

func (e IndicatorEvent) TopicName() string {
	return "indicator." + e.Action
}

func (e IndicatorEvent) EventType() string {
	return "ecotrack.indicator." + e.Action
}

//go:generate moq -rm -out publisher_mock.go . Publisher

type Publisher interface {
	Publish(ctx context.Context, evt IndicatorEvent) error
}

// Publishers fans an event out to every publisher and joins the errors.
type Publishers []Publisher

func (p Publishers) Publish(ctx context.Context, evt IndicatorEvent) error {
	var errs []error
	for _, pub := range p {
		if err := pub.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type brokerPublisher struct {
	broker messaging.Broker
}

func NewBrokerPublisher(b messaging.Broker) Publisher {
	return &brokerPublisher{broker: b}
}

func (p *brokerPublisher) Publish(ctx context.Context, evt IndicatorEvent) error {
	return p.broker.Publish(ctx, evt.TopicName(), evt)
}

type eventSender struct {
	notifications []Notification
	client        cloudevents.Client
}

// New returns a publisher that delivers events as CloudEvents over HTTP to the
// subscribers of every notification whose type is a prefix of the event type.
func New(cfg *Config) (Publisher, error) {
	e := &eventSender{}

	if cfg != nil {
		e.notifications = cfg.Notifications
	}

	if len(e.notifications) == 0 {
		return e, nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}
	e.client = c

	return e, nil
}

func (e *eventSender) subscribers(eventType string) []SubscriberConfig {
	return lo.FlatMap(e.notifications, func(n Notification, _ int) []SubscriberConfig {
		if n.Type != "" && strings.HasPrefix(eventType, n.Type) {
			return n.Subscribers
		}
		return nil
	})
}

func (e *eventSender) Publish(ctx context.Context, evt IndicatorEvent) error {
	subscribers := e.subscribers(evt.EventType())
	if len(subscribers) == 0 || e.client == nil {
		return nil
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(evt.Timestamp)
	event.SetSource("github.com/diwise/ecotrack")
	event.SetType(evt.EventType())
	event.SetSubject(fmt.Sprintf("%d", evt.Indicator.ID))

	err := event.SetData(evt.ContentType(), evt)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := e.client.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
