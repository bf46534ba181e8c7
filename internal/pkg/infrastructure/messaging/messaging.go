package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("broker connection closed")

//go:generate moq -rm -out messaging_mock.go . Broker

type Broker interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close() error
}

type Config struct {
	URL      string
	Exchange string
	Service  string
}

const DefaultExchange = "ecotrack.indicators"

func LoadConfiguration(serviceName string) Config {
	exchange := os.Getenv("RABBITMQ_EXCHANGE")
	if exchange == "" {
		exchange = DefaultExchange
	}

	return Config{
		URL:      os.Getenv("RABBITMQ_URL"),
		Exchange: exchange,
		Service:  serviceName,
	}
}

type broker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	appID    string
}

// NewBroker connects to the broker and declares a durable topic exchange.
func NewBroker(ctx context.Context, cfg Config) (Broker, error) {
	log := logging.GetFromContext(ctx)

	if cfg.URL == "" {
		return nil, fmt.Errorf("no broker url configured")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	log.Info().Str("exchange", cfg.Exchange).Msg("connected to message broker")

	return &broker{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		appID:    cfg.Service,
	}, nil
}

func (b *broker) Publish(ctx context.Context, routingKey string, body any) error {
	bytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil {
		return ErrClosed
	}

	return b.channel.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		AppId:        b.appID,
		Timestamp:    time.Now().UTC(),
		Body:         bytes,
	})
}

func (b *broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil {
		return nil
	}

	b.channel.Close()
	b.channel = nil

	return b.conn.Close()
}
