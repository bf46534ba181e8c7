package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientID"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type MessageHandler func(ctx context.Context, topic string, payload []byte) error

type Subscriber struct {
	client    paho.Client
	cfg       Config
	logger    zerolog.Logger
	ctx       context.Context
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handler MessageHandler
}

func NewSubscriber(ctx context.Context, cfg Config, handler MessageHandler) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("no mqtt broker configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no mqtt topic configured")
	}

	logger := logging.GetFromContext(ctx).With().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Logger()

	s := &Subscriber{
		cfg:     cfg,
		logger:  logger,
		ctx:     logging.NewContextWithLogger(ctx, logger),
		stopCh:  make(chan struct{}),
		handler: handler,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c paho.Client) {
		s.setConnected(true)
		logger.Info().Msg("mqtt connected")

		// subscriptions do not survive a clean session reconnect
		if err := s.subscribe(); err != nil {
			logger.Error().Err(err).Msg("failed to subscribe")
		}
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.setConnected(false)
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	s.client = paho.NewClient(opts)
	return s, nil
}

// Connect starts connecting to the broker and waits until the first attempt
// completes, the context is cancelled or the subscriber is stopped.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe() error {
	const qos = byte(1)

	token := s.client.Subscribe(s.cfg.Topic, qos, func(_ paho.Client, msg paho.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.cfg.Topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Topic, token.Error())
	}

	s.logger.Info().Msg("subscribed to mqtt topic")
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug().Str("message_topic", topic).Int("size", len(payload)).Msg("received mqtt message")

	if s.handler == nil {
		return
	}

	if err := s.handler(s.ctx, topic, payload); err != nil {
		s.logger.Error().Err(err).Str("message_topic", topic).Msg("message handler failed")
	}
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the connection. Safe to call more than once.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.Topic)
		token.WaitTimeout(2 * time.Second)
	}

	s.client.Disconnect(250)

	s.setConnected(false)
	s.logger.Info().Msg("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
